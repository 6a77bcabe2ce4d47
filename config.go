package vipps

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nordauth/vipps-oauth/cache"
	"github.com/nordauth/vipps-oauth/instrumentation"
)

// Environment selects the Vipps environment
type Environment string

const (
	// EnvironmentTest targets the Vipps merchant test environment
	EnvironmentTest Environment = "test"

	// EnvironmentProd targets the Vipps production environment
	EnvironmentProd Environment = "prod"
)

// ResponseMode is the OIDC response mode requested during authorization
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFormPost ResponseMode = "form_post"
	ResponseModeFragment ResponseMode = "fragment"
)

// Authentication is the token endpoint client authentication method
type Authentication string

const (
	AuthenticationBasic Authentication = "basic"
	AuthenticationPost  Authentication = "post"
)

// ScopesPreset is a named shorthand expanding to a fixed list of scopes
type ScopesPreset string

const (
	// ScopesPresetBasic requests openid, name and email
	ScopesPresetBasic ScopesPreset = "basic"

	// ScopesPresetProfile additionally requests the phone number
	ScopesPresetProfile ScopesPreset = "profile"

	// ScopesPresetAddress additionally requests the user's addresses
	ScopesPresetAddress ScopesPreset = "address"
)

const (
	baseURLTest = "https://apitest.vipps.no"
	baseURLProd = "https://api.vipps.no"

	discoveryPath        = "/access-management-1.0/access/.well-known/openid-configuration"
	userinfoFallbackPath = "/vipps-userinfo-api/userinfo"
	authorizePath        = "/access-management-1.0/access/oauth2/auth"
	tokenPath            = "/access-management-1.0/access/oauth2/token"

	// ScopeOpenID must be present in every resolved scope set
	ScopeOpenID = "openid"

	// DefaultRequestTimeout is applied to the internally built HTTP client
	// when the caller does not supply one.
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds the Vipps provider configuration
type Config struct {
	// ClientID is the client ID from the Vipps MobilePay portal (required)
	ClientID string

	// ClientSecret is the client secret from the Vipps MobilePay portal (required)
	ClientSecret string

	// Environment selects the Vipps environment (required)
	Environment Environment

	// RedirectURI is an optional custom redirect URI. When set it must be an
	// absolute URL; when empty the host framework's callback is used.
	RedirectURI string

	// Scopes are additional requested scopes; "openid" is always ensured
	Scopes []string

	// ScopesPreset is an optional named scope preset applied on top of the
	// defaults and below explicit Scopes.
	ScopesPreset ScopesPreset

	// Prompt is the standard OIDC prompt value passed through to the
	// authorization request (e.g. "login", "consent").
	Prompt string

	// ResponseMode is the OIDC response mode. Default: query.
	ResponseMode ResponseMode

	// AuthorizationURLParams are extra authorization request parameters.
	// User-supplied keys overwrite computed ones.
	AuthorizationURLParams map[string]string

	// Authentication is the token endpoint auth method passthrough.
	// Default: post.
	Authentication Authentication

	// OverrideUserInfo asks the host framework to overwrite stored user info
	// on every sign-in (passthrough). Default: false.
	OverrideUserInfo bool

	// MapProfileToUser is an optional profile mapper applied by the host
	// framework after the pipeline returns a profile.
	MapProfileToUser func(*UserInfo) map[string]any

	// UserinfoHeaders are optional additional headers for the userinfo
	// request. They may overwrite the computed Authorization and Accept
	// headers.
	UserinfoHeaders map[string]string

	// DiscoveryCache is an optional cache for discovery documents
	DiscoveryCache cache.DiscoveryCache

	// DiscoveryCacheTTL is the TTL for cached discovery documents.
	// Default: cache.DefaultTTL (1 hour).
	DiscoveryCacheTTL time.Duration

	// HTTPClient is a custom HTTP client for provider requests. When nil a
	// client with DefaultRequestTimeout is used.
	HTTPClient *http.Client

	// RequestTimeout overrides the timeout of the internally built HTTP
	// client. Ignored when HTTPClient is set.
	RequestTimeout time.Duration

	// RateLimit is the optional client-side rate limit for provider API
	// calls. Zero disables limiting.
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// RateLimitConfig holds client-side rate limiting configuration for calls to
// the provider's discovery and userinfo endpoints.
type RateLimitConfig struct {
	// Rate is requests per second allowed towards the provider. Zero
	// disables limiting.
	Rate int

	// Burst is the maximum burst size. Defaults to Rate when zero.
	Burst int
}

// redactedClientSecret replaces the client secret in logs and marshaled output
const redactedClientSecret = "[REDACTED: client secret]"

// LogValue implements slog.LogValuer so a logged Config never exposes the
// client secret.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.String("client_secret", redactedClientSecret),
		slog.String("environment", string(c.Environment)),
	)
}

// validate checks required fields and enum values
func (c *Config) validate() error {
	if c == nil {
		return &ConfigError{Reason: "config is nil"}
	}
	if c.ClientID == "" {
		return newConfigError("clientId", "is required and cannot be empty")
	}
	if c.ClientSecret == "" {
		return newConfigError("clientSecret", "is required and cannot be empty")
	}
	switch c.Environment {
	case EnvironmentTest, EnvironmentProd:
	default:
		return newConfigError("environment", `must be one of "test", "prod"`)
	}
	if c.RedirectURI != "" {
		u, err := url.Parse(c.RedirectURI)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return newConfigError("redirectUri", "must be a valid absolute URL")
		}
	}
	switch c.ResponseMode {
	case "", ResponseModeQuery, ResponseModeFormPost, ResponseModeFragment:
	default:
		return newConfigError("responseMode", `must be one of "query", "form_post", "fragment"`)
	}
	switch c.Authentication {
	case "", AuthenticationBasic, AuthenticationPost:
	default:
		return newConfigError("authentication", `must be one of "basic", "post"`)
	}
	switch c.ScopesPreset {
	case "", ScopesPresetBasic, ScopesPresetProfile, ScopesPresetAddress:
	default:
		return newConfigError("scopesPreset", `must be one of "basic", "profile", "address"`)
	}
	return nil
}

// DefaultScopes returns the scope set requested when no preset or explicit
// scopes are configured. It always contains "openid".
func DefaultScopes() []string {
	return []string{ScopeOpenID, "name", "email", "phoneNumber"}
}

// ScopesFromPreset expands a named preset to its ordered scope list
func ScopesFromPreset(preset ScopesPreset) []string {
	switch preset {
	case ScopesPresetBasic:
		return []string{ScopeOpenID, "name", "email"}
	case ScopesPresetProfile:
		return []string{ScopeOpenID, "name", "email", "phoneNumber"}
	case ScopesPresetAddress:
		return []string{ScopeOpenID, "name", "email", "phoneNumber", "address"}
	default:
		return nil
	}
}

// MergeScopes unions two scope lists, keeping the order of first occurrence
// and dropping duplicates.
func MergeScopes(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			merged = append(merged, s)
		}
	}
	return merged
}

// resolveScopes computes the final scope set: defaults, then the preset, then
// explicit scopes, deduplicated. The resolver always injects the defaults
// which include "openid", so the missing-openid failure only triggers under
// conflicting future inputs.
func resolveScopes(preset ScopesPreset, explicit []string) ([]string, error) {
	merged := MergeScopes(DefaultScopes(), MergeScopes(ScopesFromPreset(preset), explicit))
	found := false
	for _, s := range merged {
		if s == ScopeOpenID {
			found = true
			break
		}
	}
	if !found {
		return nil, newConfigError("scopes", `the "openid" scope is required`)
	}
	return merged, nil
}

// BaseURL returns the Vipps API base URL for an environment
func BaseURL(env Environment) string {
	if env == EnvironmentTest {
		return baseURLTest
	}
	return baseURLProd
}

// DiscoveryURL returns the OpenID Connect discovery URL for an environment
func DiscoveryURL(env Environment) string {
	return BaseURL(env) + discoveryPath
}
