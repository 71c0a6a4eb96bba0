package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain       = "meshcall.example.org"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultTURN         = "" // Optional, empty by default
	DefaultBgMode       = "none"
	DefaultBlurStrength = 12
	DefaultBgColor      = "#1f1f1f"
)

// Preferences mirror the per-user settings page of the web client.
type Preferences struct {
	AutoMic      bool   `yaml:"auto_mic"`
	AutoCam      bool   `yaml:"auto_cam"`
	BgMode       string `yaml:"bg_mode"`
	BlurStrength int    `yaml:"blur_strength"`
	BgSrc        string `yaml:"bg_src"`
	BgColor      string `yaml:"bg_color"`
}

// DefaultPreferences returns the settings a fresh account starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoMic:      true,
		AutoCam:      true,
		BgMode:       DefaultBgMode,
		BlurStrength: DefaultBlurStrength,
		BgColor:      DefaultBgColor,
	}
}

// Config holds application configuration
type Config struct {
	// Domain is the web/relay server domain
	Domain string

	// RelayURL is the websocket endpoint, without room/user query
	RelayURL string

	// ICEEndpoint serves per-room ICE server lists
	ICEEndpoint string
	ICEToken    string

	// Fallback ICE servers used when the endpoint is unavailable
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	// Username is the room-scoped identity
	Username string

	Prefs Preferences
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile  string
	Domain      string
	RelayURL    string
	ICEEndpoint string
	ICEToken    string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Username    string
}

// fileConfig is the on-disk YAML shape. Pointers distinguish "unset" from zero.
type fileConfig struct {
	Domain      string `yaml:"domain"`
	RelayURL    string `yaml:"relay_url"`
	ICEEndpoint string `yaml:"ice_endpoint"`
	ICEToken    string `yaml:"ice_token"`
	STUNServer  string `yaml:"stun_server"`
	TURNServer  string `yaml:"turn_server"`
	TURNUser    string `yaml:"turn_username"`
	TURNPass    string `yaml:"turn_password"`
	ForceRelay  *bool  `yaml:"force_relay"`
	Username    string `yaml:"username"`
	Prefs       struct {
		AutoMic      *bool  `yaml:"auto_mic"`
		AutoCam      *bool  `yaml:"auto_cam"`
		BgMode       string `yaml:"bg_mode"`
		BlurStrength *int   `yaml:"blur_strength"`
		BgSrc        string `yaml:"bg_src"`
		BgColor      string `yaml:"bg_color"`
	} `yaml:"preferences"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (YAML)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	fc, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	domain := pick(opts.Domain, os.Getenv("MESHCALL_DOMAIN"), fc.Domain, DefaultDomain)

	relayURL := pick(opts.RelayURL, os.Getenv("MESHCALL_RELAY_URL"), fc.RelayURL, fmt.Sprintf("wss://%s/ws", domain))
	iceEndpoint := pick(opts.ICEEndpoint, os.Getenv("MESHCALL_ICE_URL"), fc.ICEEndpoint, fmt.Sprintf("https://%s/api/ice", domain))
	iceToken := pick(opts.ICEToken, os.Getenv("MESHCALL_ICE_TOKEN"), fc.ICEToken, "")

	stunServer := pick(opts.STUNServer, os.Getenv("STUN_SERVER"), fc.STUNServer, DefaultSTUN)
	turnServer := pick(opts.TURNServer, os.Getenv("TURN_SERVER"), fc.TURNServer, DefaultTURN)
	turnUser := pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), fc.TURNUser, "")
	turnPass := pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), fc.TURNPass, "")

	username := pick(opts.Username, os.Getenv("MESHCALL_USER"), fc.Username, "")

	forceRelay := opts.ForceRelay
	if !forceRelay {
		if v, ok := os.LookupEnv("MESHCALL_FORCE_RELAY"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid MESHCALL_FORCE_RELAY %q: %w", v, err)
			}
			forceRelay = b
		} else if fc.ForceRelay != nil {
			forceRelay = *fc.ForceRelay
		}
	}

	prefs := DefaultPreferences()
	if fc.Prefs.AutoMic != nil {
		prefs.AutoMic = *fc.Prefs.AutoMic
	}
	if fc.Prefs.AutoCam != nil {
		prefs.AutoCam = *fc.Prefs.AutoCam
	}
	if fc.Prefs.BgMode != "" {
		prefs.BgMode = fc.Prefs.BgMode
	}
	if fc.Prefs.BlurStrength != nil {
		prefs.BlurStrength = *fc.Prefs.BlurStrength
	}
	if fc.Prefs.BgSrc != "" {
		prefs.BgSrc = fc.Prefs.BgSrc
	}
	if fc.Prefs.BgColor != "" {
		prefs.BgColor = fc.Prefs.BgColor
	}

	return &Config{
		Domain:      domain,
		RelayURL:    relayURL,
		ICEEndpoint: iceEndpoint,
		ICEToken:    iceToken,
		STUNServer:  stunServer,
		TURNServer:  turnServer,
		TURNUser:    turnUser,
		TURNPass:    turnPass,
		ForceRelay:  forceRelay,
		Username:    username,
		Prefs:       prefs,
	}, nil
}

// DefaultConfigFile returns $XDG_CONFIG_HOME/meshcall/config.yaml (or the OS equivalent).
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "meshcall", "config.yaml")
}

// readFile loads the YAML layer. A missing default file is not an error;
// a missing explicitly named file is.
func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	explicit := path != ""
	if !explicit {
		path = os.Getenv("MESHCALL_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigFile()
	}
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetRelayURL returns the websocket URL for joining room as user.
func (c *Config) GetRelayURL(room, user string) (string, error) {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", c.RelayURL, err)
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("user", user)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetRoomLink returns the shareable join link for a room.
func (c *Config) GetRoomLink(roomID, key string) string {
	return fmt.Sprintf("https://%s/join/%s?key=%s", c.Domain, url.PathEscape(roomID), url.QueryEscape(key))
}

// ParseJoinLink accepts either a bare room id or a join link and returns
// the room id and key (empty when the link carries none).
func ParseJoinLink(s string) (room, key string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", errors.New("empty room")
	}
	if !strings.Contains(s, "/") {
		return s, "", nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid join link: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] != "join" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("invalid join link %q", s)
	}
	return parts[len(parts)-1], u.Query().Get("key"), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
