package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ice"
	"github.com/spf13/cobra"
)

var flagICERoom string

var iceCmd = &cobra.Command{
	Use:   "ice",
	Short: "Show the ICE servers a room would use",
	Long: `Fetch the ICE servers for a room from the configured endpoint, falling back
to the static STUN/TURN settings, and show the transport policy that applies.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var client *ice.Client
		if cfg.ICEEndpoint != "" {
			client = ice.NewClient(cfg.ICEEndpoint, cfg.ICEToken, slog.Default())
		}
		servers := ice.Resolve(ctx, client, cfg, flagICERoom)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.SetTitle("ICE servers")
		t.AppendHeader(table.Row{"#", "URLs", "Username"})
		for i, s := range servers {
			t.AppendRow(table.Row{i + 1, strings.Join(s.URLs, "\n"), s.Username})
		}
		t.AppendFooter(table.Row{"", "Policy", ice.Policy(cfg.ForceRelay, servers).String()})
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(iceCmd)
	iceCmd.Flags().StringVar(&flagICERoom, "room", "", "Room to fetch servers for")
}
