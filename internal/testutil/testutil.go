// Package testutil provides testing utilities and fixtures for the
// vipps-oauth library, most notably a scriptable fake Vipps provider serving
// the discovery and userinfo endpoints.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// Provider endpoint paths mirrored from the real Vipps environments
const (
	DiscoveryPath        = "/access-management-1.0/access/.well-known/openid-configuration"
	UserinfoPath         = "/vipps-userinfo-api/userinfo"
	UserinfoCustomPath   = "/custom/userinfo"
	TestAccessToken      = "test-access-token"
	TestBearerHeaderName = "Authorization"
)

// Response scripts one endpoint of the fake provider
type Response struct {
	// Status is the HTTP status code (default 200)
	Status int

	// Body is marshaled to JSON unless RawBody is set
	Body any

	// RawBody is written verbatim when non-nil
	RawBody []byte
}

// ProviderServer is a fake Vipps provider backed by httptest. Endpoint
// behavior is scripted through the Discovery and Userinfo fields before
// issuing requests; hit counters record how often each endpoint was called.
type ProviderServer struct {
	*httptest.Server

	// Discovery scripts the discovery endpoint
	Discovery Response

	// Userinfo scripts the userinfo endpoint, served both on UserinfoPath
	// and UserinfoCustomPath
	Userinfo Response

	discoveryHits atomic.Int64
	userinfoHits  atomic.Int64

	// LastUserinfoRequest captures a clone of the most recent userinfo request
	LastUserinfoRequest atomic.Pointer[http.Request]
}

// NewProviderServer starts a fake provider. The server is closed
// automatically when the test finishes.
func NewProviderServer(t *testing.T) *ProviderServer {
	t.Helper()

	s := &ProviderServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	// Defaults: a valid discovery document pointing at this server and a
	// valid userinfo payload.
	s.Discovery = Response{Body: ValidDiscovery(s.URL)}
	s.Userinfo = Response{Body: ValidUserinfo()}
	return s
}

func (s *ProviderServer) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case DiscoveryPath:
		s.discoveryHits.Add(1)
		writeResponse(w, s.Discovery)
	case UserinfoPath, UserinfoCustomPath:
		s.userinfoHits.Add(1)
		s.LastUserinfoRequest.Store(r.Clone(r.Context()))
		writeResponse(w, s.Userinfo)
	default:
		http.NotFound(w, r)
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if resp.RawBody != nil {
		w.WriteHeader(status)
		_, _ = w.Write(resp.RawBody)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp.Body != nil {
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}

// DiscoveryHits returns how often the discovery endpoint was called
func (s *ProviderServer) DiscoveryHits() int64 {
	return s.discoveryHits.Load()
}

// UserinfoHits returns how often the userinfo endpoint was called
func (s *ProviderServer) UserinfoHits() int64 {
	return s.userinfoHits.Load()
}

// ValidDiscovery returns a valid discovery document pointing the userinfo
// endpoint at baseURL.
func ValidDiscovery(baseURL string) map[string]any {
	return map[string]any{
		"issuer":                 baseURL,
		"authorization_endpoint": baseURL + "/access-management-1.0/access/oauth2/auth",
		"token_endpoint":         baseURL + "/access-management-1.0/access/oauth2/token",
		"userinfo_endpoint":      baseURL + UserinfoPath,
	}
}

// ValidUserinfo returns a userinfo payload carrying every claim the adapter
// normalizes, plus an unknown field that validation must drop.
func ValidUserinfo() map[string]any {
	return map[string]any{
		"sid":                   "session-123",
		"sub":                   "c06c4afe-d9e1-4c5d-939a-177d752a0944",
		"email":                 "user@example.com",
		"email_verified":        true,
		"name":                  "Ada Lovelace",
		"given_name":            "Ada",
		"family_name":           "Lovelace",
		"phone_number":          "4712345678",
		"phone_number_verified": true,
		"address": map[string]any{
			"address_type":   "home",
			"country":        "NO",
			"formatted":      "Robert Levins gate 5\n0154 Oslo",
			"postal_code":    "0154",
			"region":         "Oslo",
			"street_address": "Robert Levins gate 5",
		},
		"other_addresses": []map[string]any{
			{"address_type": "work", "country": "NO", "postal_code": "0182"},
		},
		"delegatedConsents": map[string]any{
			"language":      "no",
			"heading":       "Terms",
			"timeOfConsent": "2024-01-15T10:30:00Z",
			"consents": []map[string]any{
				{"id": "email", "accepted": true, "required": true},
			},
		},
		"unknown_provider_field": "dropped",
	}
}
