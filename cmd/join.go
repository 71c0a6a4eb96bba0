package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/room"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagUser    string
	flagVideo   string
	flagScreen  string
	flagNoAudio bool
	flagLoop    bool
	flagPlain   bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|join-link>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room by id or by the link its host shared.

Video is read from a VP8 IVF file; without --video only audio is sent.

Examples:
  meshcall join swift-otter-ramen --user alice
  meshcall join https://meshcall.example.org/join/swift-otter-ramen?key=... --video cam.ivf
  meshcall join swift-otter-ramen --user bob --plain`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _, err := config.ParseJoinLink(args[0])
		if err != nil {
			return err
		}
		return joinRoom(roomID, topology.RoomSecret{})
	},
}

func joinRoom(roomID string, secret topology.RoomSecret) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}
	user := flagUser
	if user == "" {
		user = cfg.Username
	}
	if user == "" {
		return errors.New("no username: pass --user or set username in the config file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", roomID))
	sp.Start()
	cc, err := NewConnectionContext(ctx, cfg, roomID, user)
	if err != nil {
		sp.Error("Could not reach the relay")
		return err
	}
	defer cc.Close()
	sp.Success(fmt.Sprintf("Joined %s as %s", ui.BoldStyle.Render(roomID), user))

	err = RunSession(ctx, cc, SessionOptions{
		Secret: secret,
		Screen: flagScreen,
		Plain:  flagPlain,
		Media: room.MediaOptions{
			VideoFile: flagVideo,
			NoAudio:   flagNoAudio,
			Loop:      flagLoop,
		},
	})
	if errors.Is(err, room.ErrKicked) {
		ui.PrintWarning("You were removed from the room by the host")
		return nil
	}
	return err
}

func addSessionFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagUser, "user", "", "Display name in the room")
	c.Flags().StringVar(&flagVideo, "video", "", "VP8 IVF file to send as camera")
	c.Flags().StringVar(&flagScreen, "screen", "", "VP8 IVF file to share as screen")
	c.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not send audio")
	c.Flags().BoolVar(&flagLoop, "loop", true, "Loop the video file")
	c.Flags().BoolVar(&flagPlain, "plain", false, "Print events instead of the interactive dashboard")
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addSessionFlags(joinCmd)
}
