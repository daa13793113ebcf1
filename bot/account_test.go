package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/dispatch"
	"github.com/qqbot-core/gateway/media"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/rest"
	"github.com/qqbot-core/gateway/token"
)

type fakeHost struct {
	allowed   map[string]bool
	activity  []string
	formatted string
}

func (h *fakeHost) ResolveAgentRoute(context.Context, string, string) string { return "" }

func (h *fakeHost) FormatInboundEnvelope(_ context.Context, _ string, _ string, content string) string {
	if h.formatted != "" {
		return h.formatted
	}
	return content
}

func (h *fakeHost) RecordActivity(_ string, kind string, _ map[string]string) {
	h.activity = append(h.activity, kind)
}

func (h *fakeHost) WriteConfigFile(string, []byte) error { return nil }

func (h *fakeHost) IsAllowed(_ string, senderID string) bool {
	if h.allowed == nil {
		return true
	}
	return h.allowed[senderID]
}

type fakePipeline struct {
	handle func(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error
}

func (f fakePipeline) HandleInbound(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
	return f.handle(ctx, event, cb)
}

func newTestAccount(t *testing.T, h *fakeHost, pl pipeline.ReplyPipeline, apiURL, tokenURL string) *Account {
	t.Helper()
	cfg := config.Account{ID: "acct-1", Enabled: true, AppID: "app-1", ClientSecret: "secret-1"}
	a := New(cfg, t.TempDir(), h, pl)
	if tokenURL != "" {
		a.tokens = token.NewWithEndpoint(tokenURL, "")
	}
	if apiURL != "" {
		a.rest = rest.New(apiURL, "")
		a.uploader = media.New(a.rest)
		a.dispatcher = dispatch.New(dispatch.Config{
			AccountID:       cfg.ID,
			AppID:           cfg.AppID,
			ClientSecret:    cfg.ClientSecret,
			MarkdownSupport: cfg.MarkdownSupport,
			Rest:            a.rest,
			Tokens:          a.tokens,
			Limiter:         a.limiter,
			Quota:           a.quota,
			Seq:             a.seq,
			Uploader:        a.uploader,
		})
	}
	return a
}

func TestOnInbound_DropsDisallowedSender(t *testing.T) {
	h := &fakeHost{allowed: map[string]bool{}}
	called := false
	pl := fakePipeline{handle: func(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
		called = true
		return nil
	}}
	a := newTestAccount(t, h, pl, "", "")

	a.onInbound(protocol.InboundEvent{SenderID: "u1", Kind: protocol.KindC2C})

	if a.queue.Len() != 0 {
		t.Fatalf("expected no enqueue for disallowed sender, queue len %d", a.queue.Len())
	}
	_ = called
}

func TestOnInbound_EnqueuesAllowedSenderAndRecordsActivity(t *testing.T) {
	h := &fakeHost{formatted: "formatted content"}
	pl := fakePipeline{handle: func(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
		return nil
	}}
	a := newTestAccount(t, h, pl, "", "")

	a.onInbound(protocol.InboundEvent{SenderID: "u1", Kind: protocol.KindC2C, Content: "hi"})

	if a.queue.Len() != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", a.queue.Len())
	}
	found := false
	for _, k := range h.activity {
		if k == "inbound" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected RecordActivity(\"inbound\", ...) to have been called")
	}
}

func TestSendFailureNotice_PushesErrorTextToOriginatingTarget(t *testing.T) {
	var bodies []map[string]interface{}
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m-err","timestamp":"1700000000"}`))
	}))
	defer apiSrv.Close()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "7200"})
	}))
	defer tokenSrv.Close()

	h := &fakeHost{}
	pl := fakePipeline{handle: func(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
		return nil
	}}
	a := newTestAccount(t, h, pl, apiSrv.URL, tokenSrv.URL)

	a.sendFailureNotice(protocol.InboundEvent{Kind: protocol.KindC2C, SenderID: "u1", MessageID: "m1"}, "响应超时")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(bodies) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(bodies) != 1 {
		t.Fatalf("expected 1 REST call, got %d", len(bodies))
	}
	content, _ := bodies[0]["content"].(string)
	if content == "" {
		t.Fatal("expected non-empty failure notice content")
	}
}
