package vipps

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nordauth/vipps-oauth/cache"
	cachemock "github.com/nordauth/vipps-oauth/cache/mock"
	"github.com/nordauth/vipps-oauth/instrumentation"
	"github.com/nordauth/vipps-oauth/internal/testutil"
)

// testProvider builds a provider pointed at the fake Vipps server
func testProvider(t *testing.T, srv *testutil.ProviderServer, mutate func(*Config)) *Provider {
	t.Helper()

	cfg := &Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		Environment:  EnvironmentTest,
	}
	if mutate != nil {
		mutate(cfg)
	}

	provider, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	provider.baseURL = srv.URL
	provider.discoveryURL = srv.URL + testutil.DiscoveryPath
	return provider
}

func TestFetchUserInfo_Success(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}

	if info.Sub != "c06c4afe-d9e1-4c5d-939a-177d752a0944" {
		t.Errorf("Sub = %q", info.Sub)
	}
	if info.Email != "user@example.com" || !info.EmailVerified {
		t.Errorf("Email = %q (verified %t)", info.Email, info.EmailVerified)
	}
	if info.Name != "Ada Lovelace" || info.GivenName != "Ada" || info.FamilyName != "Lovelace" {
		t.Errorf("name claims = %q / %q / %q", info.Name, info.GivenName, info.FamilyName)
	}
	if info.PhoneNumber != "4712345678" || !info.PhoneNumberVerified {
		t.Errorf("phone claims = %q (verified %t)", info.PhoneNumber, info.PhoneNumberVerified)
	}
	if info.Address == nil || info.Address.Country != "NO" || info.Address.PostalCode != "0154" {
		t.Errorf("Address = %+v", info.Address)
	}
	if len(info.OtherAddresses) != 1 || info.OtherAddresses[0].AddressType != "work" {
		t.Errorf("OtherAddresses = %+v", info.OtherAddresses)
	}
	if info.DelegatedConsents == nil || len(info.DelegatedConsents.Consents) != 1 {
		t.Errorf("DelegatedConsents = %+v", info.DelegatedConsents)
	}
	if info.SID != "session-123" {
		t.Errorf("SID = %q", info.SID)
	}
}

func TestFetchUserInfo_DelegatedConsentsAbsent(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	body := testutil.ValidUserinfo()
	delete(body, "delegatedConsents")
	srv.Userinfo = testutil.Response{Body: body}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}
	if info.DelegatedConsents != nil {
		t.Errorf("DelegatedConsents = %+v, want nil on subsequent logins", info.DelegatedConsents)
	}
}

func TestFetchUserInfo_UsesDiscoveredEndpointVerbatim(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Discovery = testutil.Response{Body: map[string]any{
		"userinfo_endpoint": srv.URL + testutil.UserinfoCustomPath,
	}}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}

	req := srv.LastUserinfoRequest.Load()
	if req == nil || req.URL.Path != testutil.UserinfoCustomPath {
		t.Errorf("userinfo request path = %v, want %q", req, testutil.UserinfoCustomPath)
	}
}

func TestFetchUserInfo_EmptyEndpointFallsBack(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Discovery = testutil.Response{Body: map[string]any{
		"userinfo_endpoint": "",
	}}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}

	req := srv.LastUserinfoRequest.Load()
	if req == nil || req.URL.Path != testutil.UserinfoPath {
		t.Errorf("userinfo request path = %v, want fallback %q", req, testutil.UserinfoPath)
	}
}

func TestFetchUserInfo_DiscoveryInvalidShape(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Discovery = testutil.Response{Body: map[string]any{"foo": "bar"}}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, want soft-empty", err)
	}
	if info != nil {
		t.Errorf("FetchUserInfo() = %+v, want nil", info)
	}
	if srv.UserinfoHits() != 0 {
		t.Errorf("userinfo endpoint was called %d times after invalid discovery", srv.UserinfoHits())
	}
}

func TestFetchUserInfo_DiscoveryMalformedJSON(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Discovery = testutil.Response{RawBody: []byte("not json")}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, want soft-empty", err)
	}
	if info != nil {
		t.Errorf("FetchUserInfo() = %+v, want nil", info)
	}
}

func TestFetchUserInfo_DiscoveryHTTPError(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Discovery = testutil.Response{Status: http.StatusInternalServerError, RawBody: []byte("boom")}
	provider := testProvider(t, srv, nil)

	_, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("FetchUserInfo() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusInternalServerError)
	}
}

func TestFetchUserInfo_UserinfoHTTPError(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Userinfo = testutil.Response{Status: http.StatusUnauthorized, RawBody: []byte("invalid token")}
	provider := testProvider(t, srv, nil)

	_, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("FetchUserInfo() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusUnauthorized)
	}

	details, ok := apiErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("Details = %T, want map[string]any", apiErr.Details)
	}
	if details["status"] != http.StatusUnauthorized {
		t.Errorf("Details status = %v", details["status"])
	}
	if details["body"] != "invalid token" {
		t.Errorf("Details body = %v", details["body"])
	}
	if url, _ := details["url"].(string); !strings.HasPrefix(url, srv.URL) {
		t.Errorf("Details url = %v", details["url"])
	}
}

func TestFetchUserInfo_UserinfoInvalidShape(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	srv.Userinfo = testutil.Response{Body: map[string]any{"foo": "bar"}}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, want soft-empty", err)
	}
	if info != nil {
		t.Errorf("FetchUserInfo() = %+v, want nil", info)
	}
}

func TestFetchUserInfo_UserinfoTypeMismatch(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	body := testutil.ValidUserinfo()
	body["sub"] = 12345
	srv.Userinfo = testutil.Response{Body: body}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, want soft-empty", err)
	}
	if info != nil {
		t.Errorf("FetchUserInfo() = %+v, want nil", info)
	}
}

func TestFetchUserInfo_InvalidEmail(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	body := testutil.ValidUserinfo()
	body["email"] = "not-an-email"
	srv.Userinfo = testutil.Response{Body: body}
	provider := testProvider(t, srv, nil)

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, want soft-empty", err)
	}
	if info != nil {
		t.Errorf("FetchUserInfo() = %+v, want nil", info)
	}
}

func TestFetchUserInfo_CacheHitSkipsDiscovery(t *testing.T) {
	srv := testutil.NewProviderServer(t)

	doc, err := json.Marshal(&DiscoveryDocument{
		UserinfoEndpoint: srv.URL + testutil.UserinfoPath,
	})
	if err != nil {
		t.Fatal(err)
	}

	mc := cachemock.NewMockCache()
	mc.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return doc, nil
	}

	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.DiscoveryCache = mc
	})

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}

	if srv.DiscoveryHits() != 0 {
		t.Errorf("discovery endpoint was called %d times despite cache hit", srv.DiscoveryHits())
	}
	if srv.UserinfoHits() != 1 {
		t.Errorf("userinfo endpoint was called %d times, want 1", srv.UserinfoHits())
	}
	if mc.GetCallCount("Set") != 0 {
		t.Errorf("cache.Set was called %d times on a cache hit", mc.GetCallCount("Set"))
	}
}

func TestFetchUserInfo_CacheMissPopulatesCache(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	mc := cachemock.NewMockCache()

	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.DiscoveryCache = mc
	})

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}

	call := mc.LastSetCall()
	if call == nil {
		t.Fatal("cache.Set was never called after a network discovery fetch")
	}
	if !strings.HasPrefix(call.Key, cache.KeyPrefix) {
		t.Errorf("cache key = %q, want %q prefix", call.Key, cache.KeyPrefix)
	}
	if call.TTL <= 0 {
		t.Errorf("cache TTL = %v, want positive", call.TTL)
	}

	var stored DiscoveryDocument
	if err := json.Unmarshal(call.Value, &stored); err != nil {
		t.Fatalf("stored cache value is not a discovery document: %v", err)
	}
	if stored.UserinfoEndpoint == "" {
		t.Error("stored discovery document has an empty userinfo endpoint")
	}
}

func TestFetchUserInfo_CacheTTLConfigurable(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	mc := cachemock.NewMockCache()

	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.DiscoveryCache = mc
		cfg.DiscoveryCacheTTL = 10 * time.Minute
	})

	if _, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken); err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}

	call := mc.LastSetCall()
	if call == nil {
		t.Fatal("cache.Set was never called")
	}
	if call.TTL != 10*time.Minute {
		t.Errorf("cache TTL = %v, want %v", call.TTL, 10*time.Minute)
	}
}

func TestFetchUserInfo_CacheSetFailureIsNotFatal(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	mc := cachemock.NewMockCache()
	mc.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		return errors.New("cache backend down")
	}

	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.DiscoveryCache = mc
	})

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v, cache write failure must not fail resolution", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile despite successful fetches")
	}
}

func TestFetchUserInfo_CacheGetFailureFallsThroughToNetwork(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	mc := cachemock.NewMockCache()
	mc.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("cache backend down")
	}

	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.DiscoveryCache = mc
	})

	info, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	if err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}
	if info == nil {
		t.Fatal("FetchUserInfo() returned nil profile")
	}
	if srv.DiscoveryHits() != 1 {
		t.Errorf("discovery endpoint was called %d times, want 1", srv.DiscoveryHits())
	}
}

func TestFetchUserInfo_RequestHeaders(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.UserinfoHeaders = map[string]string{
			"Merchant-Serial-Number": "123456",
			"Accept":                 "application/vnd.vipps+json",
		}
	})

	if _, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken); err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}

	req := srv.LastUserinfoRequest.Load()
	if req == nil {
		t.Fatal("no userinfo request captured")
	}
	if got := req.Header.Get("Authorization"); got != "Bearer "+testutil.TestAccessToken {
		t.Errorf("Authorization header = %q", got)
	}
	if got := req.Header.Get("Merchant-Serial-Number"); got != "123456" {
		t.Errorf("Merchant-Serial-Number header = %q", got)
	}
	// Extra headers overwrite the computed defaults, last writer wins.
	if got := req.Header.Get("Accept"); got != "application/vnd.vipps+json" {
		t.Errorf("Accept header = %q", got)
	}
}

func TestFetchUserInfo_TransportError(t *testing.T) {
	srv := testutil.NewProviderServer(t)
	provider := testProvider(t, srv, nil)
	srv.Close()

	_, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("FetchUserInfo() error = %v, want *APIError", err)
	}
	if apiErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", apiErr.Status)
	}
}

func TestFetchUserInfo_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	srv := testutil.NewProviderServer(t)
	provider := testProvider(t, srv, func(cfg *Config) {
		cfg.Instrumentation = inst
	})

	if _, err := provider.FetchUserInfo(context.Background(), testutil.TestAccessToken); err != nil {
		t.Fatalf("FetchUserInfo() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{
		"vipps.discovery.requests.total",
		"vipps.discovery.request.duration",
		"vipps.userinfo.requests.total",
		"vipps.userinfo.request.duration",
	} {
		if !found[name] {
			t.Errorf("metric %q was not recorded", name)
		}
	}
}
