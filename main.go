package main

import (
	"github.com/orico2007/WebRtcSecuredVideoChatSite/cmd"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
