package config

import (
	"fmt"
	"os"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain   = "manar-backend.onrender.com"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "" // Optional, empty by default
	DefaultTURNUser = ""
	DefaultTURNPass = ""
)

// Config holds client configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// WebSocketURL and HTTPBaseURL are constructed from domain
	WebSocketURL string
	HTTPBaseURL  string

	// ICE servers for the direct transport
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// RelayChat allows encrypted text to fall back to the relay while the
	// direct channel is not open.
	RelayChat bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	RelayChat  bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := opts.Domain
	if domain == "" {
		domain = os.Getenv("MANAR_SERVER")
	}
	if domain == "" {
		domain = DefaultDomain
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("STUN_SERVER")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	turnServer := opts.TURNServer
	if turnServer == "" {
		turnServer = os.Getenv("TURN_SERVER")
	}
	if turnServer == "" {
		turnServer = DefaultTURN
	}

	turnUser := opts.TURNUser
	if turnUser == "" {
		turnUser = os.Getenv("TURN_USERNAME")
	}
	if turnUser == "" {
		turnUser = DefaultTURNUser
	}

	turnPass := opts.TURNPass
	if turnPass == "" {
		turnPass = os.Getenv("TURN_PASSWORD")
	}
	if turnPass == "" {
		turnPass = DefaultTURNPass
	}

	wsURL, httpURL := serverURLs(domain)

	return &Config{
		Domain:       domain,
		WebSocketURL: wsURL,
		HTTPBaseURL:  httpURL,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		RelayChat:    opts.RelayChat,
	}, nil
}

// serverURLs derives the websocket and HTTP endpoints from the domain.
// A bare host gets TLS endpoints; an http:// prefix opts into plaintext for
// local development.
func serverURLs(domain string) (wsURL, httpURL string) {
	if host, ok := strings.CutPrefix(domain, "http://"); ok {
		return fmt.Sprintf("ws://%s/ws", host), fmt.Sprintf("http://%s", host)
	}
	host := strings.TrimPrefix(domain, "https://")
	return fmt.Sprintf("wss://%s/ws", host), fmt.Sprintf("https://%s", host)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// BlobURL resolves a relay-relative blob path to an absolute URL.
func (c *Config) BlobURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.HTTPBaseURL + path
}
