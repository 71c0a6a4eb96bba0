package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ice"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/room"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ui"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

// ConnectionContext is everything a session needs from the outside world.
type ConnectionContext struct {
	Client  *signaling.Client
	Factory *mcwebrtc.Factory
	Config  *config.Config
	Room    string
	User    string
}

// NewConnectionContext resolves ICE servers for room and connects to the relay.
func NewConnectionContext(ctx context.Context, cfg *config.Config, roomID, user string) (*ConnectionContext, error) {
	iceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var iceClient *ice.Client
	if cfg.ICEEndpoint != "" {
		iceClient = ice.NewClient(cfg.ICEEndpoint, cfg.ICEToken, slog.Default())
	}
	servers := ice.Resolve(iceCtx, iceClient, cfg, roomID)
	policy := ice.Policy(cfg.ForceRelay, servers)
	if policy == webrtc.ICETransportPolicyRelay {
		slog.Info("Using TURN relay only", "forced", cfg.ForceRelay)
	}

	factory, err := mcwebrtc.NewFactory(mcwebrtc.FactoryOptions{
		ICEServers: servers,
		Policy:     policy,
		Logger:     slog.Default(),
	})
	if err != nil {
		return nil, room.NewError("prepare webrtc", err)
	}

	relayURL, err := cfg.GetRelayURL(roomID, user)
	if err != nil {
		return nil, room.NewError("connect to relay", err)
	}
	client := signaling.NewClient(relayURL, slog.Default())
	if err := client.Connect(ctx); err != nil {
		return nil, room.NewError("connect to relay", err)
	}

	return &ConnectionContext{
		Client:  client,
		Factory: factory,
		Config:  cfg,
		Room:    roomID,
		User:    user,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, room.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil && cfg.ICEEndpoint == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// SessionOptions are the per-invocation choices of join and create.
type SessionOptions struct {
	Secret topology.RoomSecret
	Media  room.MediaOptions
	Screen string
	Plain  bool
}

// RunSession runs a room session until ctx ends, the user leaves or the
// session fails.
func RunSession(ctx context.Context, cc *ConnectionContext, opts SessionOptions) error {
	media := opts.Media
	media.Prefs = cc.Config.Prefs
	feed := newMediaFeed()

	s := room.New(room.Options{
		User:              cc.User,
		Secret:            opts.Secret,
		Relay:             cc.Client,
		NewPeerConnection: cc.Factory.NewPeerConnection,
		Media:             media,
		Sink:              feed,
		Logger:            slog.Default(),
	})

	ctx, cancel := context.WithCancel(ctx)
	ended := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ended <- s.Run(ctx)
	}()
	// Leaving through the dashboard still says goodbye to every peer.
	defer func() {
		cancel()
		<-finished
	}()

	if opts.Screen != "" {
		go shareWhenReady(ctx, s, opts.Screen)
	}

	var err error
	if opts.Plain {
		err = runPlain(ctx, s, feed.out, ended)
	} else {
		ctrl := &controller{session: s, room: cc.Room}
		err = ui.NewDashboard(ctrl, s.Changes(), lines(ctx, s, feed.out), ended).Run()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shareWhenReady starts the screen share once local media is published.
func shareWhenReady(ctx context.Context, s *room.Session, path string) {
	select {
	case <-ctx.Done():
		return
	case <-s.Local().Ready():
	}
	if err := s.StartScreen(path); err != nil && !errors.Is(err, room.ErrSessionClosed) {
		slog.Warn("Screen share failed", "file", path, "error", err)
	}
}

func runPlain(ctx context.Context, s *room.Session, media <-chan ui.Line, ended <-chan error) error {
	for {
		select {
		case err := <-ended:
			return err
		case n := <-s.Notices():
			printNotice(n)
		case l := <-media:
			ui.PrintInfo(l.Text)
		case <-ctx.Done():
			return <-ended
		}
	}
}

func printNotice(n room.Notice) {
	switch n.Kind {
	case room.NoticeChat:
		to := ""
		if n.Private {
			to = " (private)"
		}
		fmt.Printf("%s %s%s: %s\n", ui.IconChat, n.From, to, n.Text)
	case room.NoticeWarning:
		ui.PrintWarning(n.Text)
	default:
		ui.PrintInfo(n.Text)
	}
}

// lines adapts session notices to dashboard log lines and merges in the
// media feed.
func lines(ctx context.Context, s *room.Session, media <-chan ui.Line) <-chan ui.Line {
	out := make(chan ui.Line, 16)
	go func() {
		defer close(out)
		for {
			var l ui.Line
			select {
			case <-ctx.Done():
				return
			case l = <-media:
			case n := <-s.Notices():
				l = noticeLine(n)
			}
			select {
			case out <- l:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func noticeLine(n room.Notice) ui.Line {
	l := ui.Line{Kind: ui.LineInfo, From: n.From, Text: n.Text, Private: n.Private}
	switch n.Kind {
	case room.NoticeChat:
		l.Kind = ui.LineChat
	case room.NoticeWarning:
		l.Kind = ui.LineWarning
	}
	return l
}

// mediaFeed reports inbound media as it is attached to and released from a
// participant's tiles. It never blocks the session.
type mediaFeed struct {
	out chan ui.Line
}

func newMediaFeed() *mediaFeed {
	return &mediaFeed{out: make(chan ui.Line, 16)}
}

func (f *mediaFeed) emit(text string) {
	select {
	case f.out <- ui.Line{Kind: ui.LineInfo, Text: text}:
	default:
	}
}

func (f *mediaFeed) AttachCamera(peerID, _ string, kind webrtc.RTPCodecType) {
	f.emit(fmt.Sprintf("Receiving %s from %s", kind, peerID))
}

func (f *mediaFeed) DetachCamera(peerID, _ string) {
	f.emit("Media from " + peerID + " ended")
}

func (f *mediaFeed) AttachScreen(peerID, _ string) {
	f.emit(peerID + " is sharing their screen")
}

func (f *mediaFeed) DetachScreen(peerID, _ string) {
	f.emit(peerID + " stopped sharing their screen")
}

// controller drives a session from the dashboard.
type controller struct {
	session *room.Session
	room    string
}

func (c *controller) View() (ui.RoomView, error) {
	snap, err := c.session.Snapshot()
	if err != nil {
		return ui.RoomView{}, err
	}
	v := ui.RoomView{
		Self:     snap.Self,
		Host:     snap.Host,
		IsHost:   snap.IsHost,
		RoomID:   c.room,
		JoinLink: snap.Secret.JoinLink,
		Key:      snap.Secret.Key,
	}
	v.Peers = append(v.Peers, ui.PeerRow{
		Name:       snap.Self,
		Self:       true,
		Host:       snap.IsHost,
		Secured:    true,
		Connection: "local",
		Mic:        snap.Mic,
		Camera:     snap.Camera,
		Screen:     snap.Screen,
		Hand:       snap.Hand,
	})
	for _, p := range snap.Peers {
		v.Peers = append(v.Peers, ui.PeerRow{
			Name:       p.ID,
			Host:       p.ID == snap.Host,
			Secured:    p.Secured,
			Connection: p.Connection.String(),
			Mic:        p.Media.Mic,
			Camera:     p.Media.Camera,
			Screen:     p.Media.Screen || p.HasScreen,
			Hand:       p.HandRaised,
		})
	}
	return v, nil
}

func (c *controller) Execute(cmd ui.Command) error {
	s := c.session
	switch cmd.Kind {
	case ui.CmdChat:
		return s.Chat(cmd.Text, "")
	case ui.CmdMessage:
		return s.Chat(cmd.Text, cmd.Target)
	case ui.CmdKick:
		return s.Kick(cmd.Target)
	case ui.CmdTransferHost:
		return s.TransferHost(cmd.Target)
	case ui.CmdMuteAll:
		return s.MuteAll()
	case ui.CmdMic:
		return s.SetMic(cmd.Switch.Resolve(s.Local().Mic()))
	case ui.CmdCamera:
		return s.SetCamera(cmd.Switch.Resolve(s.Local().Camera()))
	case ui.CmdScreen:
		if cmd.Switch == ui.SwitchOff {
			return s.StopScreen()
		}
		return s.StartScreen(cmd.Text)
	case ui.CmdHand:
		snap, err := s.Snapshot()
		if err != nil {
			return err
		}
		return s.RaiseHand(cmd.Switch.Resolve(snap.Hand))
	}
	return room.ErrUnknownCommand
}
