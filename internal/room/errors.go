package room

import (
	"errors"
	"fmt"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ui"
)

var (
	ErrRelayClosed    = errors.New("relay connection closed")
	ErrSessionClosed  = errors.New("session closed")
	ErrKicked         = topology.ErrKicked
	ErrNotHost        = topology.ErrNotHost
	ErrNoVideoSource  = errors.New("no video source configured")
	ErrMediaNotReady  = errors.New("local media not ready")
	ErrUnknownCommand = errors.New("unknown command")
)

// Error describes a failed session operation, optionally tied to one peer.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Print() {
	ui.PrintError(e.Error())
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

func PrintErr(err error) {
	ui.PrintError(err.Error())
}
