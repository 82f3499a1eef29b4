// Package client is the voice session client: it owns the signaling
// channel, one peer media session at a time, the reconnection supervisor
// and the notification registry.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoPeerSession = errors.New("no peer session")
	// ErrStopped is returned by an operation whose session was stopped or
	// superseded while it was in flight.
	ErrStopped = errors.New("session stopped")
)

const (
	DefaultMaxRetries         = 5
	DefaultStreamPollInterval = 5 * time.Second
	DefaultDialTimeout        = 10 * time.Second

	detailMaxRetries = "Connection lost. Max retries reached."
	detailICEFailed  = "ICE Connection Failed"
)

type Options struct {
	Config      domain.SessionConfig
	Page        Page
	Dialer      Dialer
	PeerFactory core.PeerFactory
	MediaSource core.MediaSource
	Clock       Clock
	Backoff     Backoff
	MaxRetries  int
	ResetPolicy ResetPolicy
	// PlaybackAddr receives inbound RTP when set.
	PlaybackAddr string
	DialTimeout  time.Duration
	Logger       *zerolog.Logger
}

// Client is safe for concurrent use. Public operations never block on the
// network except StartSending and StartReceiving, which wait for the
// signaling channel and local media.
type Client struct {
	events   *Events
	dialer   Dialer
	factory  core.PeerFactory
	source   core.MediaSource
	clock    Clock
	timers   *timers
	backoff  Backoff
	analyser *media.Analyser
	logger   zerolog.Logger

	maxRetries  int
	resetPolicy ResetPolicy
	playback    string
	dialTimeout time.Duration
	page        Page

	mu    sync.Mutex
	after []func()
	// draining is set while some goroutine runs queued work.
	draining bool
	cfg     domain.SessionConfig
	status  domain.Status
	detail  string
	mode    domain.Mode
	target  domain.StreamID
	epoch   uint64
	retries int
	channel *channel
	peer    core.PeerSession
	local   core.LocalAudio
	streams streamSet
	latency time.Duration
}

func New(opts Options) *Client {
	c := &Client{
		events:      &Events{},
		dialer:      opts.Dialer,
		factory:     opts.PeerFactory,
		source:      opts.MediaSource,
		clock:       opts.Clock,
		backoff:     opts.Backoff,
		analyser:    media.NewAnalyser(),
		maxRetries:  opts.MaxRetries,
		resetPolicy: opts.ResetPolicy,
		playback:    opts.PlaybackAddr,
		dialTimeout: opts.DialTimeout,
		page:        opts.Page,
		cfg:         opts.Config,
		status:      domain.StatusDisconnected,
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.dialer == nil {
		c.dialer = WSDialer{HandshakeTimeout: c.dialTimeout}
	}
	if c.backoff == (Backoff{}) {
		c.backoff = DefaultBackoff()
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.cfg == (domain.SessionConfig{}) {
		c.cfg = domain.DefaultSessionConfig()
	}
	if opts.Logger != nil {
		c.logger = opts.Logger.With().Str("module", "client").Logger()
	} else {
		c.logger = log.With().Str("module", "client").Logger()
	}
	c.timers = newTimers(c.clock)
	return c
}

func (c *Client) Events() *Events { return c.events }

func (c *Client) Analyser() *media.Analyser { return c.analyser }

// unlock releases mu, then runs the work queued while it was held:
// resource closers and notifications, in the order they were queued.
// Only one goroutine drains at a time. A handler that calls back into the
// client just queues more work, which the running drain picks up once the
// handler returns.
func (c *Client) unlock() {
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for {
		batch := c.after
		c.after = nil
		if len(batch) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.runBatch(batch)
		c.mu.Lock()
	}
}

func (c *Client) runBatch(batch []func()) {
	for _, fn := range batch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Interface("panic", r).Msg("notification handler panicked")
				}
			}()
			fn()
		}()
	}
}

func (c *Client) later(fn func()) {
	c.after = append(c.after, fn)
}

func (c *Client) setStatusLocked(s domain.Status, detail string) {
	if c.status == s && c.detail == detail {
		return
	}
	c.logger.Info().Str("status", s.String()).Str("detail", detail).Msg("status changed")
	c.status, c.detail = s, detail
	ev := StateChange{Status: s, Detail: detail}
	c.later(func() { c.events.state.publish(ev) })
}

func (c *Client) Status() (domain.Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.detail
}

func (c *Client) Config() domain.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig merges the set fields of p. It takes effect on the next
// connection or media acquisition.
func (c *Client) UpdateConfig(p domain.ConfigPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = c.cfg.Merge(p)
}

func (c *Client) Streams() []domain.StreamID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.list()
}

// NewestStream is the most recently announced stream still available.
func (c *Client) NewestStream() (domain.StreamID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.newest()
}

// Latency is the one-way delay of the last audio_data telemetry.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// StartSending connects, acquires local audio and asks the relay to accept
// a new stream. The offer follows the relay's sender_ready.
func (c *Client) StartSending(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.beginAttemptLocked(domain.ModeSend, "")
	constraints := c.cfg.Constraints()
	c.unlock()

	if err := c.connect(ctx, epoch); err != nil {
		return c.fail(epoch, err)
	}
	if c.source == nil {
		return c.fail(epoch, fmt.Errorf("acquire audio: %w", media.ErrSourceUnavailable))
	}
	local, err := c.source.Acquire(ctx, constraints)
	if err != nil {
		return c.fail(epoch, fmt.Errorf("acquire audio: %w", err))
	}

	c.mu.Lock()
	defer c.unlock()
	if c.epoch != epoch {
		c.later(func() { _ = local.Stop() })
		return ErrStopped
	}
	c.local = local
	if t, ok := local.(media.Tappable); ok {
		t.Tap(c.analyser)
	}
	if err := c.negotiateSendLocked(); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// StartReceiving connects and asks the relay for streamID. An empty id
// lets the relay choose its newest stream.
func (c *Client) StartReceiving(ctx context.Context, streamID string) error {
	var target domain.StreamID
	if strings.TrimSpace(streamID) != "" {
		id, err := domain.ParseStreamID(streamID)
		if err != nil {
			c.mu.Lock()
			defer c.unlock()
			return c.failLocked(fmt.Errorf("start receiving: %w", err))
		}
		target = id
	}

	c.mu.Lock()
	epoch := c.beginAttemptLocked(domain.ModeReceive, target)
	c.unlock()

	if err := c.connect(ctx, epoch); err != nil {
		return c.fail(epoch, err)
	}

	c.mu.Lock()
	defer c.unlock()
	if c.epoch != epoch {
		return ErrStopped
	}
	if err := c.negotiateReceiveLocked(); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// Stop ends the session: it tells the relay, releases media and the
// peer session, closes the channel and cancels any pending reconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.unlock()
	c.sendLocked(protocol.StopStream{})
	c.teardownLocked()
	c.mode, c.target = domain.ModeIdle, ""
	c.setStatusLocked(domain.StatusDisconnected, "")
}

// Close is Stop plus cancelling stream polling and every other timer.
// The client is reusable afterwards.
func (c *Client) Close() {
	c.Stop()
	c.timers.cancelAll()
}

// StopStream ends the media session but keeps the signaling channel.
func (c *Client) StopStream() {
	c.mu.Lock()
	defer c.unlock()
	c.epoch++
	c.timers.cancel(timerReconnect)
	if c.channelOpenLocked() {
		c.sendLocked(protocol.StopStream{})
		c.setStatusLocked(domain.StatusConnected, "")
	} else {
		c.setStatusLocked(domain.StatusDisconnected, "")
	}
	c.releaseMediaLocked()
	c.mode, c.target = domain.ModeIdle, ""
}

// GetStreams asks the relay for its stream list when the channel is open.
func (c *Client) GetStreams() {
	c.mu.Lock()
	defer c.unlock()
	if c.channelOpenLocked() {
		c.sendLocked(protocol.GetAvailableStreams{})
	}
}

// WatchStreams polls GetStreams every interval until StopWatching.
func (c *Client) WatchStreams(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStreamPollInterval
	}
	c.GetStreams()
	c.timers.every(timerStreamPoll, interval, c.GetStreams)
}

func (c *Client) StopWatching() {
	c.timers.cancel(timerStreamPoll)
}

// beginAttemptLocked supersedes whatever was in flight and returns the
// epoch of the new attempt.
func (c *Client) beginAttemptLocked(mode domain.Mode, target domain.StreamID) uint64 {
	c.timers.cancel(timerReconnect)
	c.releaseMediaLocked()
	c.epoch++
	c.mode, c.target = mode, target
	c.retries = 0
	c.setStatusLocked(domain.StatusConnecting, "")
	return c.epoch
}

// connect opens the signaling channel unless one is already open.
func (c *Client) connect(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.unlock()
		return ErrStopped
	}
	if c.channelOpenLocked() {
		c.unlock()
		return nil
	}
	endpoint, err := ResolveEndpoint(c.cfg.ServerURL, c.page)
	if err != nil {
		c.setStatusLocked(domain.StatusError, err.Error())
		c.unlock()
		return err
	}
	c.unlock()

	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	c.logger.Info().Str("url", endpoint).Msg("connecting")
	conn, err := c.dialer.Dial(dctx, endpoint)

	c.mu.Lock()
	defer c.unlock()
	if c.epoch != epoch {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrStopped
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	if c.channel != nil {
		c.channel.Close()
	}
	c.channel = openChannel(conn, c.logger, c.handleMessage, c.handleChannelClosed)
	if c.resetPolicy == ResetOnChannelOpen {
		c.retries = 0
	}
	c.logger.Info().Str("url", endpoint).Msg("signaling channel open")
	return nil
}

func (c *Client) channelOpenLocked() bool {
	return c.channel != nil && c.channel.Open()
}

// sendLocked is best effort: without an open channel the frame is dropped.
func (c *Client) sendLocked(m protocol.ClientMessage) {
	if c.channel == nil {
		c.logger.Debug().Str("type", string(m.Type())).Msg("no channel, dropping")
		return
	}
	if err := c.channel.Send(m); err != nil {
		c.logger.Error().Err(err).Str("type", string(m.Type())).Msg("send failed")
	}
}

// fail tears down the attempt identified by epoch and reports err as the
// error status, unless a newer attempt or Stop already took over.
func (c *Client) fail(epoch uint64, err error) error {
	c.mu.Lock()
	defer c.unlock()
	if c.epoch != epoch || errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	return c.failLocked(err)
}

func (c *Client) failLocked(err error) error {
	c.logger.Error().Err(err).Str("mode", c.mode.String()).Msg("session failed")
	c.teardownLocked()
	c.mode = domain.ModeIdle
	c.setStatusLocked(domain.StatusError, err.Error())
	return err
}

// teardownLocked releases everything the session holds.
func (c *Client) teardownLocked() {
	c.epoch++
	c.timers.cancel(timerReconnect)
	c.releaseMediaLocked()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
}

func (c *Client) releaseMediaLocked() {
	c.closePeerLocked()
	if local := c.local; local != nil {
		c.local = nil
		c.later(func() {
			if err := local.Stop(); err != nil {
				c.logger.Warn().Err(err).Msg("release local audio")
			}
		})
	}
	c.analyser.Reset()
	c.latency = 0
}

func (c *Client) closePeerLocked() {
	peer := c.peer
	if peer == nil {
		return
	}
	c.peer = nil
	c.later(func() {
		if err := peer.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close peer session")
		}
	})
}

// newPeerLocked replaces the peer session with a fresh one whose callbacks
// are ignored once it is replaced.
func (c *Client) newPeerLocked() (core.PeerSession, error) {
	if c.factory == nil {
		return nil, ErrNoPeerSession
	}
	c.closePeerLocked()
	peer, err := c.factory.NewPeer()
	if err != nil {
		return nil, fmt.Errorf("create peer session: %w", err)
	}
	c.peer = peer
	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) { c.onLocalCandidate(peer, ci) })
	peer.OnTrack(func(t core.RemoteTrack) { c.onRemoteTrack(peer, t) })
	peer.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) { c.onICEState(peer, s) })
	return peer, nil
}

func (c *Client) negotiateSendLocked() error {
	if c.local == nil {
		return fmt.Errorf("acquire audio: %w", media.ErrSourceUnavailable)
	}
	peer, err := c.newPeerLocked()
	if err != nil {
		return err
	}
	if err := peer.AddLocalTrack(c.local.Track()); err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	c.sendLocked(protocol.StartSending{})
	return nil
}

func (c *Client) negotiateReceiveLocked() error {
	if _, err := c.newPeerLocked(); err != nil {
		return err
	}
	c.sendLocked(protocol.StartReceiving{StreamID: c.target})
	return nil
}
