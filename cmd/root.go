package cmd

import (
	"os"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/ui"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDomain   string
	flagRelayURL string
	flagICEURL   string
	flagICEToken string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "End-to-end encrypted mesh video calls over WebRTC",
	Long: `meshcall joins full-mesh WebRTC rooms from the terminal. Every pair of
participants agrees on its own key, and all negotiation passes through the relay
encrypted, so the relay only ever sees who talks to whom.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func configOptions() config.Options {
	return config.Options{
		ConfigFile:  flagConfig,
		Domain:      flagDomain,
		RelayURL:    flagRelayURL,
		ICEEndpoint: flagICEURL,
		ICEToken:    flagICEToken,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.DefaultConfigFile()+")")
	f.StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	f.StringVar(&flagRelayURL, "relay-url", "", "Relay websocket URL")
	f.StringVar(&flagICEURL, "ice-url", "", "ICE server endpoint")
	f.StringVar(&flagICEToken, "ice-token", "", "Bearer token for the ICE endpoint")
	f.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	f.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	f.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	f.BoolVarP(&flagRelay, "relay", "r", false, "Force TURN relay")
}
