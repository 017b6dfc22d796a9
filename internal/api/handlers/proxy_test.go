package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/loomino-brkh/claude-proxy/internal/config"
)

func newTestRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewProxyHandler(cfg)
	engine := gin.New()
	engine.POST("/v1/messages", h.Messages)
	engine.POST("/v1/responses", h.Responses)
	return engine
}

func TestForwardTranslatesAndProxies(t *testing.T) {
	var upstreamBody []byte
	var upstreamPath, upstreamAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		upstreamPath = r.URL.Path
		upstreamAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gen-1","choices":[]}`))
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "claude-sonnet-4",
		"messages": [{"role": "user", "content": "hi"}]
	}`))
	req.Header.Set("x-api-key", "sk-or-test")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != `{"id":"gen-1","choices":[]}` {
		t.Errorf("response body = %s", recorder.Body.String())
	}
	if upstreamPath != "/chat/completions" {
		t.Errorf("upstream path = %q", upstreamPath)
	}
	if upstreamAuth != "Bearer sk-or-test" {
		t.Errorf("upstream auth = %q", upstreamAuth)
	}

	sent := gjson.ParseBytes(upstreamBody)
	if got := sent.Get("model").String(); got != "anthropic/claude-sonnet-4" {
		t.Errorf("upstream model = %q", got)
	}
	if got := sent.Get("provider.only.0").String(); got != "anthropic" {
		t.Errorf("upstream provider = %s", sent.Get("provider").Raw)
	}
}

func TestForwardResponsesPath(t *testing.T) {
	var upstreamPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model": "sonnet", "messages": []}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if upstreamPath != "/responses" {
		t.Errorf("upstream path = %q", upstreamPath)
	}
}

func TestForwardValidationError(t *testing.T) {
	router := newTestRouter(&config.Config{UpstreamURL: "http://127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages": []}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	body := gjson.Parse(recorder.Body.String())
	if got := body.Get("type").String(); got != "error" {
		t.Errorf("error envelope type = %q", got)
	}
	if got := body.Get("error.type").String(); got != "invalid_request_error" {
		t.Errorf("error.type = %q", got)
	}
	if msg := body.Get("error.message").String(); !strings.Contains(msg, "model") {
		t.Errorf("error.message = %q, expected to name the model field", msg)
	}
}

func TestForwardUpstreamUnreachable(t *testing.T) {
	// A closed server yields a connect error.
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model": "sonnet", "messages": []}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := gjson.Get(recorder.Body.String(), "error.type").String(); got != "api_error" {
		t.Errorf("error.type = %q", got)
	}
}

func TestForwardUpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model": "sonnet", "messages": []}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, expected upstream error passthrough", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "rate limited") {
		t.Errorf("body = %s", recorder.Body.String())
	}
}

func TestForwardHeaderDirectiveOverride(t *testing.T) {
	var upstreamBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model": "claude-sonnet-4", "messages": []}`))
	req.Header.Set("X-Provider", "deepseek/deepseek-r1-0528")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	sent := gjson.ParseBytes(upstreamBody)
	if got := sent.Get("provider.only.0").String(); got != "deepseek" {
		t.Errorf("provider = %s, expected the header directive to win", sent.Get("provider").Raw)
	}
}

func TestForwardBodyDirectiveOverride(t *testing.T) {
	var upstreamBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "claude-sonnet-4",
		"messages": [],
		"provider": {"ignore": ["azure"]}
	}`))
	req.Header.Set("X-Provider", "deepseek/deepseek-r1-0528")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	sent := gjson.ParseBytes(upstreamBody)
	if got := sent.Get("provider.ignore.0").String(); got != "azure" {
		t.Errorf("provider = %s, expected the body directive to win over the header", sent.Get("provider").Raw)
	}
}

func TestForwardStreamPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"gen-1\"}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "claude-sonnet-4",
		"messages": [],
		"stream": true
	}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := recorder.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `data: {"id":"gen-1"}`) || !strings.Contains(body, "data: [DONE]") {
		t.Errorf("stream body = %q", body)
	}
}

func TestForwardEventStreamWithoutFlag(t *testing.T) {
	// An upstream that answers with an event stream gets piped even when
	// the request never set the stream flag.
	var sawStreamFalse bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		sawStreamFalse = !gjson.GetBytes(payload, "stream").Bool()
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"gen-2\"}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	router := newTestRouter(&config.Config{UpstreamURL: upstream.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "claude-sonnet-4",
		"messages": []
	}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !sawStreamFalse {
		t.Error("upstream request should carry stream:false")
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, event-stream response must be piped", got)
	}
	if got := recorder.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `data: {"id":"gen-2"}`) || !strings.Contains(body, "data: [DONE]") {
		t.Errorf("stream body = %q", body)
	}
}

func TestUpstreamKeyPrecedence(t *testing.T) {
	headers := http.Header{}
	headers.Set("x-api-key", "client-key")
	headers.Set("Authorization", "Bearer auth-key")

	if got := upstreamKey(&config.Config{UpstreamAPIKey: "configured"}, headers); got != "configured" {
		t.Errorf("upstreamKey = %q, configured key should win", got)
	}
	if got := upstreamKey(&config.Config{}, headers); got != "client-key" {
		t.Errorf("upstreamKey = %q, x-api-key should beat Authorization", got)
	}
	headers.Del("x-api-key")
	if got := upstreamKey(&config.Config{}, headers); got != "auth-key" {
		t.Errorf("upstreamKey = %q", got)
	}
	if got := upstreamKey(&config.Config{}, http.Header{}); got != "" {
		t.Errorf("upstreamKey = %q, expected empty", got)
	}
}
