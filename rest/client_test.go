package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qqbot-core/gateway/protocol"
)

func TestRequest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "QQBot tok" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	var out protocol.MessageSendResponse
	if err := c.Request(context.Background(), "tok", http.MethodPost, "/v2/users/x/messages", map[string]string{"content": "hi"}, &out); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if out.ID != "m1" {
		t.Fatalf("got id %q", out.ID)
	}
}

func TestRequest_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 11, "message": "invalid access_token"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.Request(context.Background(), "tok", http.MethodPost, "/v2/users/x/messages", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*protocol.APIError)
	if !ok {
		t.Fatalf("expected *protocol.APIError, got %T", err)
	}
	if !apiErr.IsAuthExpired() {
		t.Fatalf("expected IsAuthExpired, message=%q", apiErr.Message)
	}
}
