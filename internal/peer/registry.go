package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/securechannel"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/tracks"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

// ErrSelf is returned when asked to create a record for the local identity.
var ErrSelf = errors.New("peer: refusing record for local identity")

// Config wires a Registry to the rest of the session.
type Config struct {
	// Self is the local identity.
	Self string

	// NewPeerConnection creates the connection for a new record.
	NewPeerConnection func() (*webrtc.PeerConnection, error)

	// Send relays a sealed payload to a peer.
	Send func(peerID, payload string) error

	// Wire installs connection observers on a new record. Observers must only
	// post events back to the session loop.
	Wire func(rec *Record)

	// Local media attached to every connection once available.
	Local *media.Local

	// Classifier is reset for destroyed peers.
	Classifier *tracks.Classifier

	// OnDestroy releases presentation resources bound to a record.
	OnDestroy func(rec *Record)

	Logger *slog.Logger
}

// Registry owns the set of peer records. At most one record exists per
// identity and never one for Self.
//
// Registry is not safe for concurrent use; the session loop owns it.
type Registry struct {
	cfg   Config
	peers map[string]*Record
	log   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:   cfg,
		peers: make(map[string]*Record),
		log:   logger.With("component", "registry"),
	}
}

// Self returns the local identity.
func (r *Registry) Self() string { return r.cfg.Self }

// Ensure returns the record for id, creating it on first use. The bool
// reports whether a record was created.
func (r *Registry) Ensure(id string) (*Record, bool, error) {
	if id == "" || id == r.cfg.Self {
		return nil, false, ErrSelf
	}
	if rec, ok := r.peers[id]; ok {
		return rec, false, nil
	}

	pc, err := r.cfg.NewPeerConnection()
	if err != nil {
		return nil, false, fmt.Errorf("peer %s: %w", id, err)
	}

	rec := &Record{
		ID:      id,
		PC:      pc,
		Senders: make(map[string]*webrtc.RTPSender),
	}
	rec.Channel = securechannel.NewChannel(func(payload string) error {
		return r.cfg.Send(id, payload)
	})

	if dc, err := mcwebrtc.OpenStateChannel(pc); err != nil {
		r.log.Warn("State channel unavailable", "peer", id, "error", err)
	} else {
		rec.State = dc
	}

	if r.cfg.Wire != nil {
		r.cfg.Wire(rec)
	}
	r.peers[id] = rec
	r.log.Debug("Peer record created", "peer", id)

	if r.cfg.Local != nil && r.cfg.Local.IsReady() {
		if _, err := r.AttachLocal(rec); err != nil {
			r.log.Warn("Attaching local media failed", "peer", id, "error", err)
		}
	}
	return rec, true, nil
}

// Get returns the live record for id, or nil.
func (r *Registry) Get(id string) *Record {
	return r.peers[id]
}

// Current reports whether rec is still the registered record for its id.
// Continuations use it to detect that their record was torn down meanwhile.
func (r *Registry) Current(rec *Record) bool {
	return rec != nil && rec.Alive() && r.peers[rec.ID] == rec
}

// AttachLocal adds every local track not yet sent on rec's connection and
// returns how many were added.
func (r *Registry) AttachLocal(rec *Record) (int, error) {
	if r.cfg.Local == nil || !r.Current(rec) {
		return 0, nil
	}
	added := 0
	for _, t := range r.cfg.Local.Tracks() {
		if _, ok := rec.Senders[t.ID()]; ok {
			continue
		}
		sender, err := rec.PC.AddTrack(t)
		if err != nil {
			return added, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		rec.Senders[t.ID()] = sender
		go drainRTCP(sender)
		added++
	}
	return added, nil
}

// DetachLocal stops sending the local track with trackID to rec.
func (r *Registry) DetachLocal(rec *Record, trackID string) error {
	sender, ok := rec.Senders[trackID]
	if !ok {
		return nil
	}
	delete(rec.Senders, trackID)
	if err := rec.PC.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove track %s: %w", trackID, err)
	}
	return nil
}

// Destroy tears down the record for id: it discards key material and the
// outbound queue, closes the connection and releases presentation resources.
// It reports whether a record existed; calling it again is a no-op.
func (r *Registry) Destroy(id string) bool {
	rec, ok := r.peers[id]
	if !ok {
		return false
	}
	delete(r.peers, id)
	rec.destroyed = true
	rec.Phase = PhaseClosed

	rec.Exchange.Discard()
	rec.Channel.Close()
	rec.Candidates = nil

	if r.cfg.Classifier != nil {
		r.cfg.Classifier.Reset(id, &rec.Streams)
	}
	if r.cfg.OnDestroy != nil {
		r.cfg.OnDestroy(rec)
	}

	if err := rec.PC.Close(); err != nil {
		r.log.Debug("Closing peer connection", "peer", id, "error", err)
	}
	r.log.Debug("Peer record destroyed", "peer", id)
	return true
}

// DestroyAll tears down every record.
func (r *Registry) DestroyAll() {
	for _, id := range r.IDs() {
		r.Destroy(id)
	}
}

// IDs returns the known peer ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of records.
func (r *Registry) Len() int { return len(r.peers) }

// Infos snapshots every record, sorted by id.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.peers))
	for _, id := range r.IDs() {
		out = append(out, r.peers[id].Info())
	}
	return out
}

// drainRTCP reads RTCP for sender so that interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
