// Package ice fetches STUN/TURN credentials for a room and decides the ICE
// transport policy.
package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/dns"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/version"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrUnauthorized is returned when the ICE endpoint rejects the room credentials.
	ErrUnauthorized = errors.New("ice: not authorized for this room")

	// ErrRoomNotFound is returned when the ICE endpoint does not know the room.
	ErrRoomNotFound = errors.New("ice: room not found")

	// ErrNoServers is returned when a successful response lists no servers.
	ErrNoServers = errors.New("ice: response has no ice servers")
)

type serverJSON struct {
	URLs       stringOrSlice `json:"urls"`
	Username   string        `json:"username,omitempty"`
	Credential string        `json:"credential,omitempty"`
}

type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type response struct {
	ICEServers      []serverJSON `json:"iceServers"`
	ICEServersSnake []serverJSON `json:"ice_servers"`
	Error           string       `json:"error"`
}

// Client fetches ICE servers from the provisioning endpoint once per session
// and caches the result.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *slog.Logger

	mu      sync.Mutex
	cache   map[string][]webrtc.ICEServer
	fetched map[string]bool
}

// NewClient returns a client for endpoint. token, when set, is sent as a
// bearer token.
func NewClient(endpoint, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dns.Default.DialContext
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Transport: transport, Timeout: 10 * time.Second},
		log:      logger.With("component", "ice"),
		cache:    make(map[string][]webrtc.ICEServer),
		fetched:  make(map[string]bool),
	}
}

// Servers returns the ICE servers for room. The first successful answer is
// cached; failures are not.
func (c *Client) Servers(ctx context.Context, room string) ([]webrtc.ICEServer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched[room] {
		return c.cache[room], nil
	}
	servers, err := c.fetch(ctx, room)
	if err != nil {
		return nil, err
	}
	c.cache[room] = servers
	c.fetched[room] = true
	return servers, nil
}

func (c *Client) fetch(ctx context.Context, room string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("ice: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ice: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ice: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ice: read: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrRoomNotFound
	default:
		return nil, fmt.Errorf("ice: endpoint returned %s", resp.Status)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("ice: decode: %w", err)
	}
	raw := r.ICEServers
	if len(raw) == 0 {
		raw = r.ICEServersSnake
	}
	if len(raw) == 0 {
		return nil, ErrNoServers
	}

	out := make([]webrtc.ICEServer, 0, len(raw))
	for _, s := range raw {
		var urls []string
		for _, u := range s.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: urls, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	if len(out) == 0 {
		return nil, ErrNoServers
	}
	c.log.Debug("Fetched ICE servers", "room", room, "count", len(out))
	return out, nil
}

// FromConfig builds ICE servers from the static STUN/TURN settings.
func FromConfig(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := cfg.GetTURNServers(); len(turn) > 0 {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{URLs: turn, Username: user, Credential: pass})
	}
	return servers
}

// Resolve returns the endpoint's servers for room, falling back to the static
// configuration when the endpoint is unset or fails.
func Resolve(ctx context.Context, c *Client, cfg *config.Config, room string) []webrtc.ICEServer {
	if c != nil && c.endpoint != "" {
		servers, err := c.Servers(ctx, room)
		if err == nil {
			return servers
		}
		c.log.Warn("ICE endpoint unavailable, using configured servers", "error", err)
	}
	return FromConfig(cfg)
}

// Policy returns the transport policy: relay-only when forced by
// configuration or when the host looks like it sits behind a VPN or CGNAT and
// a TURN server is available.
func Policy(forceRelay bool, servers []webrtc.ICEServer) webrtc.ICETransportPolicy {
	if forceRelay {
		return webrtc.ICETransportPolicyRelay
	}
	if hasTURN(servers) && ShouldForceRelay() {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func hasTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
