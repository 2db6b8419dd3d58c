// Package resolve discovers direct endpoints for an agent address via a
// directory service. Resolution is best-effort: any failure degrades to the
// relay path, never to an error the caller must handle.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/agentdial-dev/agentdial/pkg/observability"
	"github.com/agentdial-dev/agentdial/pkg/security"
)

// AgentInfo is the identity-confirmation response from a candidate endpoint.
type AgentInfo struct {
	Address string   `json:"address"`
	Name    string   `json:"name,omitempty"`
	Tools   []string `json:"tools,omitempty"`
	Trust   string   `json:"trust,omitempty"`
	Version string   `json:"version,omitempty"`
}

// Endpoint is a confirmed direct endpoint for an agent.
type Endpoint struct {
	URL  string
	Info AgentInfo
}

// Locality tiers, most preferred first.
const (
	tierLoopback = iota
	tierPrivate
	tierPublic
)

// Resolver performs directory lookup and candidate probing. It is
// stateless; the owning conversation caches the result so resolution runs
// at most once per conversation.
type Resolver struct {
	client       *http.Client
	directoryURL string
	probeTimeout time.Duration
	validator    *security.EndpointValidator
	logger       *log.Logger
}

// Config configures a Resolver.
type Config struct {
	// DirectoryURL is the base URL of the directory service.
	DirectoryURL string
	// ProbeTimeout bounds each candidate probe (default: 2s).
	ProbeTimeout time.Duration
	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client
	// Logger receives resolution diagnostics (optional).
	Logger *log.Logger
}

// NewResolver creates a resolver for a directory service.
func NewResolver(cfg Config) *Resolver {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		client:       client,
		directoryURL: strings.TrimRight(cfg.DirectoryURL, "/"),
		probeTimeout: timeout,
		validator:    security.NewEndpointValidator(security.DefaultEndpointConfig()),
		logger:       logger,
	}
}

// Resolve looks up candidate endpoints for an agent address, ranks them by
// network locality, and probes each for identity confirmation. It returns
// the first confirmed endpoint, or nil when none confirms. Resolution
// failure only forces relay fallback and is never fatal.
func (r *Resolver) Resolve(ctx context.Context, agentAddr string) *Endpoint {
	candidates, err := r.lookup(ctx, agentAddr)
	if err != nil {
		r.logger.Printf("resolve: directory lookup failed for %.12s...: %v", agentAddr, err)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	rankCandidates(candidates)

	for _, candidate := range candidates {
		// Candidates come from the directory, not from the user.
		if err := r.validator.ValidateURL(candidate); err != nil {
			r.logger.Printf("resolve: rejecting candidate %s: %v", candidate, err)
			continue
		}
		info, err := r.probe(ctx, candidate)
		if err != nil {
			observability.RecordResolveProbe("unreachable")
			r.logger.Printf("resolve: probe %s failed: %v", candidate, err)
			continue
		}
		if info.Address != agentAddr {
			observability.RecordResolveProbe("mismatch")
			r.logger.Printf("resolve: %s reports address %.12s..., want %.12s...", candidate, info.Address, agentAddr)
			continue
		}
		observability.RecordResolveProbe("confirmed")
		return &Endpoint{URL: candidate, Info: *info}
	}
	return nil
}

// lookup queries the directory for advertised endpoints.
func (r *Resolver) lookup(ctx context.Context, agentAddr string) ([]string, error) {
	u := fmt.Sprintf("%s/api/relay/agents/%s", r.directoryURL, url.PathEscape(agentAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var body struct {
		Endpoints []string `json:"endpoints"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse directory response: %w", err)
	}
	return body.Endpoints, nil
}

// probe hits a candidate's identity-confirmation endpoint.
func (r *Resolver) probe(ctx context.Context, endpoint string) (*AgentInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	u := strings.TrimRight(endpoint, "/") + "/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var info AgentInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("parse probe response: %w", err)
	}
	return &info, nil
}

// rankCandidates orders candidates loopback first, private-network second,
// public last. Order within a tier is preserved.
func rankCandidates(candidates []string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return localityTier(candidates[i]) < localityTier(candidates[j])
	})
}

// localityTier classifies a candidate URL by the network locality of its
// host. Unparseable URLs rank as public.
func localityTier(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return tierPublic
	}
	host := u.Hostname()
	if host == "localhost" {
		return tierLoopback
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname: only resolvable via DNS; treat as public.
		return tierPublic
	}
	if ip.IsLoopback() {
		return tierLoopback
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return tierPrivate
	}
	return tierPublic
}
