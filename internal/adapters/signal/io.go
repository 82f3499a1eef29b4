package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		// Unblocks the read pump when the session is kicked.
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess core.ConnSession, c *WsSignalConn) {
	cid := sess.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(sess)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(cid)
		}
	}()

	pongWait := ctl.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, sess, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sess core.ConnSession, data []byte) {
	logger := log.With().Str("module", "signal").Str("cid", string(sess.ID())).Logger()

	msg, err := protocol.DecodeClient(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		logger.Warn().Err(err).Msg("unknown signal")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("bad json")
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.SignalMessage(string(msg.Type()))
	}
	logger.Debug().Str("type", string(msg.Type())).Msg("signal")

	switch m := msg.(type) {
	case protocol.StartSending:
		if ctl.allow(sess) {
			ctl.Orch.StartSending(sess)
		}
	case protocol.StartReceiving:
		if ctl.allow(sess) {
			ctl.Orch.StartReceiving(ctx, sess, m.StreamID)
		}
	case protocol.Offer:
		ctl.Orch.HandleOffer(ctx, sess, m.Offer)
	case protocol.Answer:
		ctl.Orch.HandleAnswer(sess, m.Answer)
	case protocol.ICECandidate:
		ctl.Orch.HandleCandidate(sess, m.Candidate)
	case protocol.GetAvailableStreams:
		ctl.Orch.GetStreams(sess)
	case protocol.StopStream:
		ctl.Orch.StopStream(sess)
	}
}

func (ctl *SignalWSController) allow(sess core.ConnSession) bool {
	if ctl.Limiter == nil || ctl.Limiter.Allow(sess.ID()) {
		return true
	}
	log.Warn().Str("module", "signal").Str("cid", string(sess.ID())).Msg("negotiation rate limited")
	ctl.Orch.Send(sess, protocol.Error{Message: "Too many requests"})
	return false
}
