package vipps

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/nordauth/vipps-oauth/cache"
	"github.com/nordauth/vipps-oauth/instrumentation"
)

// ProviderID identifies this provider towards host frameworks
const ProviderID = "vipps"

// Provider is a configured Vipps MobilePay identity provider adapter. It is
// immutable after New and safe for concurrent use; the only shared state
// between concurrent authentications is the externally supplied discovery
// cache.
type Provider struct {
	clientID         string
	clientSecret     string
	environment      Environment
	redirectURI      string
	scopes           []string
	prompt           string
	responseMode     ResponseMode
	authentication   Authentication
	overrideUserInfo bool
	authParams       map[string]string
	userinfoHeaders  map[string]string
	mapProfileToUser func(*UserInfo) map[string]any

	baseURL      string
	discoveryURL string

	cache    cache.DiscoveryCache
	cacheTTL time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	inst       *instrumentation.Instrumentation
}

// Registration is the declarative record a host authentication framework
// consumes to register the provider. Everything except GetUserInfo is plain
// data; GetUserInfo is the host-facing entry point of the userinfo pipeline.
type Registration struct {
	ProviderID   string
	ClientID     string
	ClientSecret string
	DiscoveryURL string
	Scopes       []string
	RedirectURI  string

	// PKCE tells the host framework to perform PKCE; generation and
	// verification stay with the host.
	PKCE bool

	ResponseType           string
	ResponseMode           ResponseMode
	Prompt                 string
	AuthorizationURLParams map[string]string
	Authentication         Authentication
	OverrideUserInfo       bool

	// GetUserInfo turns an access token into a normalized profile. It never
	// returns an error to the host: pipeline failures are logged and
	// reported as a nil profile.
	GetUserInfo func(ctx context.Context, token *oauth2.Token) *UserInfo

	// MapProfileToUser is the optional caller-supplied profile mapper
	MapProfileToUser func(*UserInfo) map[string]any
}

// New creates a new Vipps provider from the given configuration. It
// validates required fields, applies defaults and computes the derived
// values consumed on every authentication event.
func New(cfg *Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scopes, err := resolveScopes(cfg.ScopesPreset, cfg.Scopes)
	if err != nil {
		return nil, err
	}

	responseMode := cfg.ResponseMode
	if responseMode == "" {
		responseMode = ResponseModeQuery
	}

	authentication := cfg.Authentication
	if authentication == "" {
		authentication = AuthenticationPost
	}

	cacheTTL := cfg.DiscoveryCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = cfg.RateLimit.Rate
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inst := cfg.Instrumentation
	if inst == nil {
		inst, err = instrumentation.New(instrumentation.Config{})
		if err != nil {
			return nil, err
		}
	}

	p := &Provider{
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		environment:      cfg.Environment,
		redirectURI:      cfg.RedirectURI,
		scopes:           scopes,
		prompt:           cfg.Prompt,
		responseMode:     responseMode,
		authentication:   authentication,
		overrideUserInfo: cfg.OverrideUserInfo,
		authParams:       buildAuthParams(responseMode, cfg.AuthorizationURLParams),
		userinfoHeaders:  copyStringMap(cfg.UserinfoHeaders),
		mapProfileToUser: cfg.MapProfileToUser,
		baseURL:          BaseURL(cfg.Environment),
		discoveryURL:     DiscoveryURL(cfg.Environment),
		cache:            cfg.DiscoveryCache,
		cacheTTL:         cacheTTL,
		httpClient:       httpClient,
		limiter:          limiter,
		logger:           logger,
		inst:             inst,
	}
	return p, nil
}

// buildAuthParams assembles the authorization request parameters: the
// response mode first, then user-supplied params with last-writer-wins.
func buildAuthParams(responseMode ResponseMode, extra map[string]string) map[string]string {
	params := make(map[string]string, len(extra)+1)
	if responseMode != "" {
		params["response_mode"] = string(responseMode)
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderID
}

// Environment returns the configured Vipps environment
func (p *Provider) Environment() Environment {
	return p.environment
}

// BaseURL returns the Vipps API base URL for the configured environment
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// DiscoveryURL returns the OpenID Connect discovery URL for the configured
// environment.
func (p *Provider) DiscoveryURL() string {
	return p.discoveryURL
}

// Scopes returns a copy of the resolved scope set. It always contains
// "openid".
func (p *Provider) Scopes() []string {
	out := make([]string, len(p.scopes))
	copy(out, p.scopes)
	return out
}

// AuthParams returns a copy of the assembled authorization request parameters
func (p *Provider) AuthParams() map[string]string {
	out := make(map[string]string, len(p.authParams))
	for k, v := range p.authParams {
		out[k] = v
	}
	return out
}

// Endpoint returns the static Vipps OAuth2 endpoints for the configured
// environment. Authoritative endpoints come from the discovery document; the
// static values serve hosts that build the authorization URL before the
// first discovery fetch.
func (p *Provider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  p.baseURL + authorizePath,
		TokenURL: p.baseURL + tokenPath,
	}
}

// OAuth2Config returns an oauth2.Config for the provider. The zero
// RedirectURL is left for the host framework to fill when no custom redirect
// URI was configured.
func (p *Provider) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  p.redirectURI,
		Scopes:       p.Scopes(),
		Endpoint:     p.Endpoint(),
	}
}

// AuthorizationURL builds the authorization request URL carrying the
// assembled authorization parameters and the configured prompt.
func (p *Provider) AuthorizationURL(state string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(p.authParams)+1)
	for k, v := range p.authParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if p.prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", p.prompt))
	}
	return p.OAuth2Config().AuthCodeURL(state, opts...)
}

// Registration returns the declarative registration record for a host
// authentication framework.
func (p *Provider) Registration() *Registration {
	return &Registration{
		ProviderID:             ProviderID,
		ClientID:               p.clientID,
		ClientSecret:           p.clientSecret,
		DiscoveryURL:           p.discoveryURL,
		Scopes:                 p.Scopes(),
		RedirectURI:            p.redirectURI,
		PKCE:                   true,
		ResponseType:           "code",
		ResponseMode:           p.responseMode,
		Prompt:                 p.prompt,
		AuthorizationURLParams: p.AuthParams(),
		Authentication:         p.authentication,
		OverrideUserInfo:       p.overrideUserInfo,
		GetUserInfo:            p.getUserInfo,
		MapProfileToUser:       p.mapProfileToUser,
	}
}

// getUserInfo is the host-facing boundary of the pipeline: a user-facing
// authentication failure is a nil profile plus a logged error, never a
// leaked exception.
func (p *Provider) getUserInfo(ctx context.Context, token *oauth2.Token) *UserInfo {
	if token == nil || token.AccessToken == "" {
		p.logger.Error("no access token provided for userinfo fetch")
		return nil
	}

	info, err := p.FetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		p.logger.Error("failed to get user info", "error", err)
		return nil
	}
	return info
}
