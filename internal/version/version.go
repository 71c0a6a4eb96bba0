package version

// Version is the current version of the meshcall CLI.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/orico2007/WebRtcSecuredVideoChatSite/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent is sent to the relay and the ICE endpoint.
func UserAgent() string {
	return "meshcall/" + Version
}
