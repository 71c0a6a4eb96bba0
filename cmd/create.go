package cmd

import (
	"fmt"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ui"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c", "host"},
	Short:   "Create a room and join it as host",
	Long: `Create a new room and join it as its host. The room id, key and join link
are shown only to the host; when the host leaves, they are handed to the next
host over the encrypted channel.

Examples:
  meshcall create --user alice
  meshcall create --user alice --video cam.ivf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}
		secret, err := topology.NewRoomSecret(cfg.GetRoomLink)
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomInfoView(secret.RoomID, secret.JoinLink, secret.Key))
		fmt.Println()
		return joinRoom(secret.RoomID, secret)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	addSessionFlags(createCmd)
}
