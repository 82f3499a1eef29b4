package main

import (
	"time"

	"github.com/dkeye/voicestream/internal/client"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagPlayback string

var receiveCmd = &cobra.Command{
	Use:   "receive [stream-id]",
	Short: "Play back a published stream",
	Long: `Receive a stream from the relay. Without a stream id the relay picks the
newest one. With --playback the raw RTP is forwarded to a local player, e.g.

  voicestream receive --playback 127.0.0.1:5006
  ffplay -protocol_whitelist rtp,udp,file stream.sdp`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}
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

		if err := c.StartReceiving(ctx, id); err != nil {
			return err
		}
		<-ctx.Done()
		c.Stop()
		return nil
	},
}

// reportLatency logs the one-way delay at most once per second.
func reportLatency(c *client.Client) func() {
	var last time.Time
	return c.Events().OnAudioData(func(ad protocol.AudioData) {
		now := time.Now()
		if now.Sub(last) < time.Second {
			return
		}
		last = now
		ev := log.Info().Str("module", "cli").Dur("latency", ad.Latency(now))
		if lvl, ok := ad.Fields["level"].(float64); ok {
			ev = ev.Float64("level_dbov", lvl)
		}
		ev.Msg("audio")
	})
}

func init() {
	receiveCmd.Flags().StringVar(&flagPlayback, "playback", "", "UDP address to forward received RTP to (default client.playback_addr)")
	rootCmd.AddCommand(receiveCmd)
}
