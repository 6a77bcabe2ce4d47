package vipps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nordauth/vipps-oauth/cache"
	"github.com/nordauth/vipps-oauth/instrumentation"
)

const (
	// maxResponseBody caps how much of a provider response is read
	maxResponseBody = 1 << 20

	// unknownErrorBody substitutes an error response body that could not be read
	unknownErrorBody = "Unknown error"
)

// FetchUserInfo resolves the userinfo endpoint through the discovery document
// (cache first, then network), fetches the raw profile with the access token
// and returns the validated, normalized result.
//
// The three outcomes are: a profile; (nil, nil) when the provider responded
// successfully but the payload failed shape validation at either stage; or an
// *APIError for non-2xx responses and transport failures. A single failed
// call surfaces immediately, it is never retried internally.
func (p *Provider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	doc, err := p.fetchDiscoveryDocument(ctx)
	if err != nil {
		return nil, wrapAPIError(err, "failed to fetch Vipps user info")
	}
	if doc == nil {
		return nil, nil
	}

	// An empty endpoint field in an otherwise valid document falls back to
	// the deterministic userinfo URL.
	endpoint := doc.UserinfoEndpoint
	if endpoint == "" {
		endpoint = p.baseURL + userinfoFallbackPath
	}

	info, err := p.fetchUserInfoFromEndpoint(ctx, endpoint, accessToken)
	if err != nil {
		return nil, wrapAPIError(err, "failed to fetch Vipps user info")
	}
	return info, nil
}

// fetchDiscoveryDocument returns the discovery document from the cache or the
// network. It returns (nil, nil) when the provider answered with a payload
// that failed schema validation; a malformed discovery document is survivable
// because the orchestrator falls back to the deterministic endpoint path only
// through a validated document.
func (p *Provider) fetchDiscoveryDocument(ctx context.Context) (*DiscoveryDocument, error) {
	m := p.inst.Metrics()

	key := cache.Key(p.discoveryURL)
	if p.cache != nil {
		if doc := p.cachedDiscovery(ctx, key); doc != nil {
			m.CacheLookups.Add(ctx, 1, metric.WithAttributes(instrumentation.CacheResultAttr(instrumentation.CacheHit)))
			return doc, nil
		}
		m.CacheLookups.Add(ctx, 1, metric.WithAttributes(instrumentation.CacheResultAttr(instrumentation.CacheMiss)))
	}

	ctx, span := p.inst.Tracer("provider").Start(ctx, "vipps.discovery.fetch",
		trace.WithAttributes(attribute.String("url", p.discoveryURL)))
	defer span.End()

	if err := p.waitLimiter(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome := instrumentation.OutcomeError
	defer func() {
		m.DiscoveryRequests.Add(ctx, 1, metric.WithAttributes(instrumentation.OutcomeAttr(outcome)))
		m.DiscoveryDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.discoveryURL, nil)
	if err != nil {
		return nil, wrapAPIError(err, "failed to create discovery request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "discovery fetch failed")
		span.RecordError(err)
		return nil, wrapAPIError(err, "failed to fetch discovery document")
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, "discovery endpoint error")
		apiErr := newAPIError(
			fmt.Sprintf("discovery endpoint returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			resp.StatusCode, nil)
		span.RecordError(apiErr)
		return nil, apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.SetStatus(codes.Error, "discovery body read failed")
		span.RecordError(err)
		return nil, wrapAPIError(err, "failed to read discovery response")
	}

	var claims discoveryClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		p.logger.Warn("discovery schema validation failed", "url", p.discoveryURL, "error", err)
		outcome = instrumentation.OutcomeInvalid
		return nil, nil
	}
	if err := claims.validate(); err != nil {
		p.logger.Warn("discovery schema validation failed", "url", p.discoveryURL, "error", err)
		outcome = instrumentation.OutcomeInvalid
		return nil, nil
	}

	doc := claims.document()
	if p.cache != nil {
		p.storeDiscovery(ctx, key, doc)
	}

	outcome = instrumentation.OutcomeSuccess
	return doc, nil
}

// cachedDiscovery returns a usable cached document or nil. Cache failures and
// unusable entries degrade to a miss; they never fail the resolution.
func (p *Provider) cachedDiscovery(ctx context.Context, key string) *DiscoveryDocument {
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("discovery cache get failed", "key", key, "error", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		p.logger.Warn("discarding undecodable discovery cache entry", "key", key, "error", err)
		return nil
	}
	if doc.UserinfoEndpoint == "" {
		return nil
	}
	return &doc
}

// storeDiscovery writes a freshly fetched document back to the cache. The
// write is fire-and-forget relative to the returned value: a failure is
// logged and the pipeline continues with the fresh document.
func (p *Provider) storeDiscovery(ctx context.Context, key string, doc *DiscoveryDocument) {
	data, err := json.Marshal(doc)
	if err != nil {
		p.logger.Warn("failed to encode discovery document for cache", "key", key, "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data, p.cacheTTL); err != nil {
		p.logger.Warn("discovery cache set failed", "key", key, "error", err)
	}
}

// fetchUserInfoFromEndpoint fetches and validates the raw profile. It returns
// (nil, nil) when the 2xx payload fails schema validation and an *APIError
// for HTTP and transport failures.
func (p *Provider) fetchUserInfoFromEndpoint(ctx context.Context, userinfoURL, accessToken string) (*UserInfo, error) {
	m := p.inst.Metrics()

	ctx, span := p.inst.Tracer("provider").Start(ctx, "vipps.userinfo.fetch",
		trace.WithAttributes(attribute.String("url", userinfoURL)))
	defer span.End()

	if err := p.waitLimiter(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome := instrumentation.OutcomeError
	defer func() {
		m.UserinfoRequests.Add(ctx, 1, metric.WithAttributes(instrumentation.OutcomeAttr(outcome)))
		m.UserinfoDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, wrapAPIError(err, "failed to create userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	// Caller-supplied headers may overwrite the computed ones.
	for k, v := range p.userinfoHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "userinfo fetch failed")
		span.RecordError(err)
		return nil, wrapAPIError(err, "failed to fetch user info")
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := unknownErrorBody
		if body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)); readErr == nil {
			errorBody = string(body)
		}
		span.SetStatus(codes.Error, "userinfo endpoint error")
		apiErr := newAPIError(
			fmt.Sprintf("userinfo endpoint returned %d: %s", resp.StatusCode, errorBody),
			resp.StatusCode,
			map[string]any{"url": userinfoURL, "status": resp.StatusCode, "body": errorBody})
		span.RecordError(apiErr)
		return nil, apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.SetStatus(codes.Error, "userinfo body read failed")
		span.RecordError(err)
		return nil, wrapAPIError(err, "failed to read userinfo response")
	}

	var claims userinfoClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			p.logger.Warn("userinfo schema validation failed", "url", userinfoURL, "error", err)
			outcome = instrumentation.OutcomeInvalid
			return nil, nil
		}
		return nil, wrapAPIError(err, "failed to parse userinfo response")
	}
	if err := claims.validate(); err != nil {
		p.logger.Warn("userinfo schema validation failed", "url", userinfoURL, "error", err)
		outcome = instrumentation.OutcomeInvalid
		return nil, nil
	}

	outcome = instrumentation.OutcomeSuccess
	return claims.userInfo(), nil
}

// waitLimiter applies the optional client-side rate limit before a provider
// API call.
func (p *Provider) waitLimiter(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return wrapAPIError(err, "rate limit wait aborted")
	}
	return nil
}
