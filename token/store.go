// Package token implements TokenStore: a cached, singleflight-guarded
// access token per account plus an optional background proactive
// refresh loop, per spec.md §4.1.
package token

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/utils"
)

// DefaultTokenEndpoint is the platform's access-token endpoint.
const DefaultTokenEndpoint = "https://bots.qq.com/app/getAppAccessToken"

const (
	refreshSkew   = 5 * time.Minute
	defaultTTL    = 7200 * time.Second
	retryInterval = 5 * time.Second
	maxJitter     = 30 * time.Second
)

// Token is an opaque access token plus its absolute expiry instant.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Store caches one access token per appID it has seen (the secret is
// not part of the key),
// with at most one in-flight fetch per key (singleflight) and an
// optional background proactive-refresh loop.
type Store struct {
	endpoint string
	client   *http.Client
	sf       singleflight.Group

	mu     sync.Mutex
	tokens map[string]Token

	log *zap.Logger
}

// New creates a Store. proxyURL, if non-empty, tunnels the token request
// through an HTTP(S) proxy, matching RestClient's proxy behavior.
func New(proxyURL string) *Store {
	return NewWithEndpoint(DefaultTokenEndpoint, proxyURL)
}

// NewWithEndpoint creates a Store against a non-default token endpoint,
// e.g. a test server.
func NewWithEndpoint(endpoint, proxyURL string) *Store {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Store{
		endpoint: endpoint,
		client:   &http.Client{Transport: transport, Timeout: 15 * time.Second},
		tokens:   make(map[string]Token),
		log:      utils.With(zap.String("component", "token.Store")),
	}
}

func cacheKey(appID string) string { return appID }

// GetAccessToken returns the cached token for appID if it is still fresh
// (now < expiresAt - 5min), otherwise fetches a new one. Concurrent
// callers for the same appID share one in-flight fetch.
func (s *Store) GetAccessToken(ctx context.Context, appID, secret string) (string, error) {
	key := cacheKey(appID)

	s.mu.Lock()
	if tok, ok := s.tokens[key]; ok && time.Now().Before(tok.ExpiresAt.Add(-refreshSkew)) {
		s.mu.Unlock()
		return tok.Value, nil
	}
	s.mu.Unlock()

	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetch(ctx, appID, secret)
	})
	if err != nil {
		return "", err
	}
	tok := v.(Token)
	return tok.Value, nil
}

// ClearTokenCache drops the cached token for appID. It does not cancel
// an in-flight fetch; the next caller starts a new one.
func (s *Store) ClearTokenCache(appID string) {
	s.mu.Lock()
	delete(s.tokens, cacheKey(appID))
	s.mu.Unlock()
}

func (s *Store) fetch(ctx context.Context, appID, secret string) (Token, error) {
	body, err := json.Marshal(protocol.TokenRequest{AppID: appID, ClientSecret: secret})
	if err != nil {
		return Token{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return Token{}, &protocol.NetworkError{Op: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, &protocol.NetworkError{Op: "token fetch", Err: err}
	}
	defer resp.Body.Close()

	var tr protocol.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, &protocol.NetworkError{Op: "decode token response", Err: err}
	}

	if resp.StatusCode/100 != 2 {
		return Token{}, &protocol.APIError{Status: resp.StatusCode, Message: "token fetch failed"}
	}
	if tr.AccessToken == "" {
		// Fatal for this fetch: propagated to the caller, which will
		// schedule a reconnect per spec.md §4.1.
		return Token{}, &protocol.APIError{Status: resp.StatusCode, Message: "token response missing access_token"}
	}

	ttl := defaultTTL
	if tr.ExpiresIn != "" {
		if n, err := strconv.Atoi(tr.ExpiresIn); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}

	tok := Token{Value: tr.AccessToken, ExpiresAt: time.Now().Add(ttl)}

	s.mu.Lock()
	s.tokens[cacheKey(appID)] = tok
	s.mu.Unlock()

	s.log.Debug("refreshed access token", zap.String("appId", appID), zap.Duration("ttl", ttl))
	return tok, nil
}

// RunBackgroundRefresh loops proactively refreshing appID's token until
// ctx is cancelled. Each cycle sleeps until expiresAt-5min-jitter(0,30s)
// then calls GetAccessToken; on failure it sleeps 5s and retries. The
// bounded jitter avoids a thundering herd across replicas sharing a
// restart time.
func (s *Store) RunBackgroundRefresh(ctx context.Context, appID, secret string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		tok, ok := s.tokens[cacheKey(appID)]
		s.mu.Unlock()

		var wait time.Duration
		if ok {
			jitter := time.Duration(rand.Int63n(int64(maxJitter)))
			wait = time.Until(tok.ExpiresAt.Add(-refreshSkew - jitter))
			if wait < 0 {
				wait = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := s.GetAccessToken(ctx, appID, secret); err != nil {
			s.log.Warn("background token refresh failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryInterval):
			}
		}
	}
}
