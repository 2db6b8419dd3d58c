// Package security validates endpoint URLs before the client connects to
// them. Candidate endpoints arrive from a remote directory and are not
// trusted; validation keeps the client from being steered at arbitrary
// targets.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointConfig configures endpoint validation.
type EndpointConfig struct {
	// AllowedSchemes is the list of allowed URL schemes
	// (default: http, https, ws, wss).
	AllowedSchemes []string
	// BlockMetadata blocks cloud metadata endpoints (169.254.169.254)
	// (default in DefaultEndpointConfig: true).
	BlockMetadata bool
	// BlockMulticast blocks multicast addresses (default in
	// DefaultEndpointConfig: true).
	BlockMulticast bool
}

// DefaultEndpointConfig returns the validation policy for
// directory-advertised candidates. Loopback and private addresses stay
// allowed: agents on the local machine or network are the preferred
// delivery path, not a threat.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		AllowedSchemes: []string{"http", "https", "ws", "wss"},
		BlockMetadata:  true,
		BlockMulticast: true,
	}
}

// EndpointValidator validates endpoint URLs against a policy.
type EndpointValidator struct {
	config         EndpointConfig
	allowedSchemes map[string]bool
}

// NewEndpointValidator creates a validator.
func NewEndpointValidator(config EndpointConfig) *EndpointValidator {
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"http", "https", "ws", "wss"}
	}
	schemes := make(map[string]bool, len(config.AllowedSchemes))
	for _, s := range config.AllowedSchemes {
		schemes[strings.ToLower(s)] = true
	}
	return &EndpointValidator{config: config, allowedSchemes: schemes}
}

// ValidateURL checks an endpoint URL against the policy.
func (v *EndpointValidator) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !v.allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return fmt.Errorf("invalid URL scheme: %q (only %v allowed)", parsed.Scheme, v.config.AllowedSchemes)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("URL has no host: %s", rawURL)
	}
	// Credentials embedded in a directory-advertised URL are never
	// legitimate.
	if parsed.User != nil {
		return fmt.Errorf("URL carries userinfo: %s", rawURL)
	}

	if ip := net.ParseIP(parsed.Hostname()); ip != nil {
		if err := v.validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (v *EndpointValidator) validateIP(ip net.IP) error {
	if v.config.BlockMulticast && ip.IsMulticast() {
		return fmt.Errorf("multicast addresses not allowed: %s", ip)
	}
	if v.config.BlockMetadata && ip.String() == "169.254.169.254" {
		return fmt.Errorf("metadata service address blocked: %s", ip)
	}
	return nil
}
