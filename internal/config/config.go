// Package config loads the router's JSON configuration file, matching the
// shape consumed by the core (spec §6): provider list, router tier routes,
// and server-level settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	defaultPort                 = 3456
	defaultHost                 = "127.0.0.1"
	defaultAPITimeoutMS         = 600000
	defaultLongContextThreshold = 60000
)

// TransformerUse names one configured transformer and its optional options,
// accepting either the bare-string or [name, options] tuple wire shape.
type TransformerUse struct {
	Name    string
	Options map[string]any
}

func (t *TransformerUse) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("transformer entry must be a string or [name, options] tuple: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("transformer tuple must have exactly 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &t.Name); err != nil {
		return fmt.Errorf("transformer tuple name: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &t.Options); err != nil {
		return fmt.Errorf("transformer tuple options: %w", err)
	}
	return nil
}

// TransformerConfig is a provider's configured transformer chain.
type TransformerConfig struct {
	Use []TransformerUse `json:"use"`
}

// Provider is one backend provider (spec §3's Provider entity).
type Provider struct {
	Name             string            `json:"name"`
	APIBaseURL       string            `json:"api_base_url"`
	APIKey           string            `json:"api_key"`
	Models           []string          `json:"models"`
	Protocol         string            `json:"protocol"` // "openai" or "anthropic"
	AnthropicVersion string            `json:"anthropic_version,omitempty"`
	Transformer      TransformerConfig `json:"transformer"`
}

// TierRetryPolicy is the per-tier retry/backoff configuration (spec §4.8),
// with defaults {3, 100, 2.0, 10000} when a tier has no explicit entry.
type TierRetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BaseBackoffMs     int     `json:"base_backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxBackoffMs      int     `json:"max_backoff_ms"`
}

// DefaultTierRetryPolicy is applied to any tier without a configured entry.
var DefaultTierRetryPolicy = TierRetryPolicy{
	MaxRetries: 3, BaseBackoffMs: 100, BackoffMultiplier: 2.0, MaxBackoffMs: 10000,
}

// RouterConfig holds the route-type → tier-route assignments plus per-tier
// retry policy overrides.
type RouterConfig struct {
	Default              string                     `json:"default"`
	Background           string                     `json:"background,omitempty"`
	Think                string                     `json:"think,omitempty"`
	LongContext          string                     `json:"longContext,omitempty"`
	LongContextThreshold int                        `json:"longContextThreshold,omitempty"`
	WebSearch            string                     `json:"webSearch,omitempty"`
	TierRetries          map[string]TierRetryPolicy `json:"tierRetries,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Providers []Provider   `json:"Providers"`
	Router    RouterConfig `json:"Router"`
	Port      int          `json:"PORT,omitempty"`
	Host      string       `json:"HOST,omitempty"`
	APITimeoutMS int       `json:"API_TIMEOUT_MS,omitempty"`
	ProxyURL  string       `json:"PROXY_URL,omitempty"`
}

// Load reads and parses a config file from path, applying defaults for
// unset optional fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.APITimeoutMS == 0 {
		c.APITimeoutMS = defaultAPITimeoutMS
	}
	if c.Router.LongContextThreshold == 0 {
		c.Router.LongContextThreshold = defaultLongContextThreshold
	}
}

// BackendTiers returns the ordered fallback chain of tier routes, built from
// the router's route-type assignments: default first, then any of
// background/think/longContext/webSearch not already present, in that order.
func (c *Config) BackendTiers() []string {
	tiers := []string{c.Router.Default}
	seen := map[string]bool{c.Router.Default: true}
	for _, route := range []string{c.Router.Background, c.Router.Think, c.Router.LongContext, c.Router.WebSearch} {
		if route == "" || seen[route] {
			continue
		}
		tiers = append(tiers, route)
		seen[route] = true
	}
	return tiers
}

// TierName extracts the short tier-name identity (the provider name by
// default) from a "<provider_name>,<model_name>" tier route, per spec §3.
func TierName(tierRoute string) string {
	name, _, ok := strings.Cut(tierRoute, ",")
	if !ok {
		return tierRoute
	}
	return name
}

// ModelName extracts the model half of a tier route.
func ModelName(tierRoute string) string {
	_, model, ok := strings.Cut(tierRoute, ",")
	if !ok {
		return ""
	}
	return model
}

// ResolveProvider looks up the Provider named in a tier route's provider
// half. The tier-name → provider map is a total function over the
// configured tier list (spec §3's invariant) as long as every route in
// Router names a provider present in Providers.
func (c *Config) ResolveProvider(tierRoute string) (*Provider, bool) {
	name := TierName(tierRoute)
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// RetryPolicyFor returns the configured retry policy for tierName, or
// DefaultTierRetryPolicy if none is configured.
func (c *Config) RetryPolicyFor(tierName string) TierRetryPolicy {
	if policy, ok := c.Router.TierRetries[tierName]; ok {
		return policy
	}
	return DefaultTierRetryPolicy
}

// RouteType names which router route a request is assigned to.
type RouteType string

const (
	RouteDefault     RouteType = "default"
	RouteBackground  RouteType = "background"
	RouteThink       RouteType = "think"
	RouteLongContext RouteType = "longContext"
	RouteWebSearch   RouteType = "webSearch"
)

// SelectRouteType applies spec §4.7's pre-step rules: an explicit preset
// name wins outright; otherwise a token count above longContextThreshold
// selects longContext (if configured); otherwise default.
func (c *Config) SelectRouteType(estimatedTokens int, preset string) RouteType {
	if preset != "" {
		return RouteType(preset)
	}
	if c.Router.LongContext != "" && estimatedTokens > c.Router.LongContextThreshold {
		return RouteLongContext
	}
	return RouteDefault
}

// TierRouteForRoute resolves a RouteType to its configured tier route,
// falling back to the default route if the requested one is unset.
func (c *Config) TierRouteForRoute(route RouteType) string {
	switch route {
	case RouteBackground:
		if c.Router.Background != "" {
			return c.Router.Background
		}
	case RouteThink:
		if c.Router.Think != "" {
			return c.Router.Think
		}
	case RouteLongContext:
		if c.Router.LongContext != "" {
			return c.Router.LongContext
		}
	case RouteWebSearch:
		if c.Router.WebSearch != "" {
			return c.Router.WebSearch
		}
	}
	return c.Router.Default
}

// CandidateTiers returns the fallback chain the orchestrator attempts for a
// selected route: the route's own tier route first, then the remaining
// configured routes in BackendTiers order, deduped. This resolves spec
// §4.7's "the configured tier list for this route type" against §3's data
// model, where each route type names a single tier route rather than a
// list: the requested route is tried first, and the rest of the router's
// configured routes form the fallback chain behind it.
func (c *Config) CandidateTiers(route RouteType) []string {
	primary := c.TierRouteForRoute(route)
	tiers := []string{primary}
	seen := map[string]bool{primary: true}
	for _, route := range c.BackendTiers() {
		if route == "" || seen[route] {
			continue
		}
		tiers = append(tiers, route)
		seen[route] = true
	}
	return tiers
}
