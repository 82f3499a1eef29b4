package main

import (
	"errors"

	"github.com/dkeye/voicestream/internal/client"
	"github.com/dkeye/voicestream/internal/core"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the newest stream, switching when streams come and go",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		playback := flagPlayback
		if playback == "" {
			playback = cfg.Client.PlaybackAddr
		}
		c, err := newClient("", playback)
		if err != nil {
			return err
		}
		defer logStatus(c)()
		defer reportLatency(c)()

		ctx, stop := interruptContext()
		defer stop()

		// Handlers only hand events to the loop below, which may block on
		// the network while switching streams.
		added := make(chan domain.StreamID, 16)
		removed := make(chan domain.StreamID, 16)
		playing := make(chan domain.StreamID, 4)
		defer c.Events().OnStreamAdded(func(id domain.StreamID) { offer(added, id) })()
		defer c.Events().OnStreamRemoved(func(id domain.StreamID) { offer(removed, id) })()
		defer c.Events().OnTrack(func(t core.RemoteTrack) { offer(playing, domain.StreamID(t.StreamID())) })()

		if err := c.StartReceiving(ctx, ""); err != nil && !errors.Is(err, client.ErrStopped) {
			log.Warn().Str("module", "cli").Err(err).Msg("initial receive failed, waiting for streams")
		}
		c.WatchStreams(cfg.Client.StreamPollInterval)

		var current domain.StreamID
		follow := func(id domain.StreamID) {
			if id == "" || id == current {
				return
			}
			log.Info().Str("module", "cli").Str("stream_id", string(id)).Msg("switching stream")
			current = id
			if err := c.StartReceiving(ctx, string(id)); err != nil {
				log.Warn().Str("module", "cli").Err(err).Msg("receive failed")
			}
		}

		for {
			select {
			case <-ctx.Done():
				c.Close()
				return nil
			case id := <-playing:
				current = id
			case id := <-added:
				follow(id)
			case id := <-removed:
				if id != current {
					continue
				}
				current = ""
				next, ok := c.NewestStream()
				if !ok {
					c.StopStream()
					log.Info().Str("module", "cli").Msg("no streams left, waiting")
					continue
				}
				follow(next)
			}
		}
	},
}

// offer hands v to ch without blocking the client's dispatch.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func init() {
	watchCmd.Flags().StringVar(&flagPlayback, "playback", "", "UDP address to forward received RTP to (default client.playback_addr)")
	rootCmd.AddCommand(watchCmd)
}
