// Package vipps adapts the Vipps MobilePay identity provider (OAuth2 /
// OpenID Connect) for host authentication frameworks.
//
// The package produces two things: a declarative provider registration record
// (client credentials, endpoints, scopes, authorization parameters) obtained
// via Provider.Registration, and a token-to-profile function implementing the
// discovery-and-userinfo resolution pipeline exposed as Provider.FetchUserInfo.
//
// The pipeline locates the provider's userinfo endpoint through a cached or
// freshly fetched OpenID Connect discovery document, falls back to a
// deterministic endpoint when the document carries an empty one, fetches the
// raw profile with the access token, validates its shape, and returns a typed
// UserInfo. Outcomes are exactly three: a profile, a nil profile for payloads
// the provider answered with but that failed shape validation, or an *APIError
// for connectivity and HTTP failures.
//
// Subpackages:
//   - cache: the discovery cache port consumed by the pipeline
//   - cache/memory: in-memory reference implementation
//   - cache/valkey: Valkey/Redis-backed implementation
//   - cache/mock: mock implementation for testing
//   - instrumentation: OpenTelemetry metrics and tracing
//
// Example usage:
//
//	provider, err := vipps.New(&vipps.Config{
//	    ClientID:     os.Getenv("VIPPS_CLIENT_ID"),
//	    ClientSecret: os.Getenv("VIPPS_CLIENT_SECRET"),
//	    Environment:  vipps.EnvironmentTest,
//	    RedirectURI:  "https://example.com/auth/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	info, err := provider.FetchUserInfo(ctx, accessToken)
package vipps
