// Package rest implements the bot-authenticated JSON REST client, per
// spec.md §4.2. Every outbound HTTP call (messages, uploads) and the
// gateway URL lookup goes through it.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/utils"
)

// DefaultBaseURL is the platform API host.
const DefaultBaseURL = "https://api.sgroup.qq.com"

// Client is a bot-authenticated JSON REST client with optional proxy
// support.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New creates a Client. proxyURL, if non-empty, tunnels every request
// (including, separately, the token endpoint — see package token)
// through the given HTTP(S) proxy.
func New(baseURL, proxyURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
		log:     utils.With(zap.String("component", "rest.Client")),
	}
}

// Request performs a bot-authenticated call and decodes the JSON
// response into out (ignored if nil). On non-2xx it returns
// *protocol.APIError.
func (c *Client) Request(ctx context.Context, token, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	var rawBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rawBody = b
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &protocol.NetworkError{Op: "build request", Err: err}
	}
	req.Header.Set("Authorization", "QQBot "+token)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("request", zap.String("method", method), zap.String("path", path), zap.String("body", redact(rawBody)))

	resp, err := c.http.Do(req)
	if err != nil {
		return &protocol.NetworkError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &protocol.NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &protocol.APIError{Status: resp.StatusCode, Message: string(respBody)}
		var decoded struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Message != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &protocol.ProtocolDecodeError{Raw: respBody, Err: err}
		}
	}
	return nil
}

// redact strips sensitive fields from a JSON body before it is logged,
// per spec.md §4.2.
func redact(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return "<unredactable body>"
	}
	for _, key := range []string{"access_token", "clientSecret", "client_secret", "token"} {
		if _, ok := m[key]; ok {
			m[key] = "***"
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "<unredactable body>"
	}
	return string(out)
}
