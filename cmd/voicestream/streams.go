package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/voicestream/internal/client"
	"github.com/dkeye/voicestream/internal/domain"
	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List the streams currently published on the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.DialTimeout)
		defer cancel()
		ids, err := fetchStreams(ctx)
		if err != nil {
			return err
		}
		renderStreams(os.Stdout, ids)
		return nil
	},
}

// fetchStreams reads the stream list the relay sends on connect.
func fetchStreams(ctx context.Context) ([]domain.StreamID, error) {
	endpoint, err := client.ResolveEndpoint(cfg.Client.ServerURL, client.Page{
		Host:   cfg.Client.PageHost,
		Secure: cfg.Client.PageSecure,
	})
	if err != nil {
		return nil, err
	}
	conn, err := client.WSDialer{HandshakeTimeout: cfg.Client.DialTimeout}.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(client.DefaultDialTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read stream list: %w", err)
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			continue
		}
		if av, ok := msg.(protocol.AvailableStreams); ok {
			return av.Streams, nil
		}
	}
}

func renderStreams(w io.Writer, ids []domain.StreamID) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Available streams")
	t.AppendHeader(table.Row{"#", "Stream", "Short", ""})
	for i, id := range ids {
		mark := ""
		if i == len(ids)-1 {
			mark = "newest"
		}
		t.AppendRow(table.Row{i + 1, id, id.Short(), mark})
	}
	t.AppendFooter(table.Row{"", "Total", len(ids), ""})
	t.Render()
}

func init() {
	rootCmd.AddCommand(streamsCmd)
}
