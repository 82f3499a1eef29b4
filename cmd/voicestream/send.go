package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagSource string

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish Opus RTP received on a local UDP port",
	Long: `Publish a voice stream. Point an encoder at the source address, e.g.

  ffmpeg -f pulse -i default -c:a libopus -f rtp rtp://127.0.0.1:5004

Ctrl+C stops the stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := flagSource
		if source == "" {
			source = cfg.Client.SourceAddr
		}
		c, err := newClient(source, "")
		if err != nil {
			return err
		}
		defer logStatus(c)()

		ctx, stop := interruptContext()
		defer stop()

		if err := c.StartSending(ctx); err != nil {
			return err
		}
		log.Info().Str("module", "cli").Str("source", source).Msg("sending, Ctrl+C to stop")

		<-ctx.Done()
		c.Stop()
		s := c.Analyser().Snapshot()
		log.Info().Str("module", "cli").Uint64("packets", s.Packets).Uint64("bytes", s.Bytes).Msg("stopped")
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&flagSource, "source", "", "UDP address receiving Opus RTP (default client.source_addr)")
	rootCmd.AddCommand(sendCmd)
}
