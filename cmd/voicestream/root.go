package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/voicestream/internal/adapters/rtc"
	"github.com/dkeye/voicestream/internal/client"
	"github.com/dkeye/voicestream/internal/config"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/logging"
	"github.com/dkeye/voicestream/internal/media"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagConfigEnv string
	flagLogLevel  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voicestream",
	Short: "Send or receive a live voice stream through a voicestream relay",
	Long: `voicestream connects to a relay over a WebSocket signaling channel and
negotiates a WebRTC audio session with it, either publishing RTP read from a
local UDP port or playing back a published stream.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadFrom(".", flagConfigEnv)
		if err != nil {
			return err
		}
		if flagServer != "" {
			loaded.Client.ServerURL = flagServer
		}
		if flagLogLevel != "" {
			loaded.Log.Level = flagLogLevel
		}
		if err := logging.Init(loaded.Log.Level, loaded.Log.Pretty); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "relay URL (ws://host:port/ws); defaults to the page host")
	rootCmd.PersistentFlags().StringVar(&flagConfigEnv, "config-env", os.Getenv("CONFIG_ENV"), "config environment, reads config/config.<env>.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newClient(source string, playback string) (*client.Client, error) {
	c := cfg.Client
	peers, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(), "client")
	if err != nil {
		return nil, fmt.Errorf("init webrtc: %w", err)
	}
	policy, ok := client.ParseResetPolicy(c.RetryReset)
	if !ok {
		return nil, fmt.Errorf("unknown retry_reset %q", c.RetryReset)
	}

	opts := client.Options{
		Config: domain.SessionConfig{
			ServerURL:        c.ServerURL,
			NoiseSuppression: c.NoiseSuppression,
			EchoCancellation: c.EchoCancellation,
			AutoGainControl:  c.AutoGainControl,
		},
		Page:         client.Page{Host: c.PageHost, Secure: c.PageSecure},
		PeerFactory:  peers,
		Backoff:      client.Backoff{Base: c.RetryBase, Factor: c.RetryFactor, Max: c.RetryMax},
		MaxRetries:   c.MaxRetries,
		ResetPolicy:  policy,
		PlaybackAddr: playback,
		DialTimeout:  c.DialTimeout,
	}
	if source != "" {
		opts.MediaSource = media.NewUDPSource(source)
	}
	return client.New(opts), nil
}

// logStatus prints every status transition.
func logStatus(c *client.Client) func() {
	return c.Events().OnStateChanged(func(sc client.StateChange) {
		ev := log.Info()
		if sc.Status == domain.StatusError {
			ev = log.Error()
		}
		ev.Str("module", "cli").Str("status", string(sc.Status)).Str("detail", sc.Detail).Msg("status")
	})
}
