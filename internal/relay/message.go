package relay

import (
	"encoding/json"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
)

// frame is one inbound websocket message awaiting the hub.
type frame struct {
	// client is the client that sent the message.
	client *Client

	// raw is the frame as received. Unknown or non-JSON frames are relayed verbatim.
	raw []byte

	// msg is the parsed envelope, nil when raw is not JSON.
	msg *signaling.Message
}

func parseFrame(c *Client, raw []byte) *frame {
	f := &frame{client: c, raw: raw}
	var msg signaling.Message
	if err := json.Unmarshal(raw, &msg); err == nil {
		f.msg = &msg
	}
	return f
}

func encode(msg *signaling.Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Message has no fields that can fail to marshal.
		panic(err)
	}
	return data
}
