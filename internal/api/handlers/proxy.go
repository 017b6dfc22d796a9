// Package handlers implements the translation proxy endpoints. Inbound
// Anthropic Messages API requests are converted to OpenAI Chat Completions
// format, decorated with provider routing preferences, and forwarded to the
// configured upstream; responses stream back unchanged.
package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loomino-brkh/claude-proxy/internal/config"
	"github.com/loomino-brkh/claude-proxy/internal/logging"
	"github.com/loomino-brkh/claude-proxy/internal/misc"
	"github.com/loomino-brkh/claude-proxy/internal/registry"
	"github.com/loomino-brkh/claude-proxy/internal/translator/openai/claude"
)

// ProxyHandler forwards translated requests to the upstream API.
type ProxyHandler struct {
	mu            sync.RWMutex
	cfg           *config.Config
	httpClient    *http.Client
	requestLogger *logging.FileRequestLogger
}

// NewProxyHandler creates a handler bound to the provided configuration.
func NewProxyHandler(cfg *config.Config) *ProxyHandler {
	return &ProxyHandler{
		cfg: cfg,
		httpClient: &http.Client{
			// No overall timeout: streaming responses stay open for
			// minutes. Cancellation rides on the request context.
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		requestLogger: logging.NewFileRequestLogger(cfg.RequestLog, "logs"),
	}
}

// UpdateConfig swaps the active configuration.
func (h *ProxyHandler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	h.requestLogger.SetEnabled(cfg.RequestLog)
}

func (h *ProxyHandler) currentConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Messages handles POST /v1/messages by forwarding to the upstream chat
// completions endpoint.
func (h *ProxyHandler) Messages(c *gin.Context) {
	h.forward(c, "/chat/completions")
}

// Responses handles POST /v1/responses by forwarding to the upstream
// responses endpoint.
func (h *ProxyHandler) Responses(c *gin.Context) {
	h.forward(c, "/responses")
}

func (h *ProxyHandler) forward(c *gin.Context, upstreamPath string) {
	cfg := h.currentConfig()
	requestID := logging.GetGinRequestID(c)
	requestTimestamp := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	converted, err := claude.ConvertClaudeRequestToOpenAI(body)
	if err != nil {
		var validationErr *claude.ValidationError
		var serializationErr *claude.SerializationError
		switch {
		case errors.As(err, &validationErr), errors.As(err, &serializationErr):
			writeClaudeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		default:
			writeClaudeError(c, http.StatusInternalServerError, "api_error", err.Error())
		}
		return
	}

	// A request-level provider selection beats the model-derived one the
	// translator injected.
	inbound := gjson.ParseBytes(body)
	if directive, ok := registry.ResolveProviderDirective(inbound.Get("provider"), c.Request.Header, cfg.DefaultProvider); ok {
		if updated, errSet := sjson.SetRawBytes(converted, "provider", []byte(directive)); errSet == nil {
			converted = updated
		}
	}

	parsed := gjson.ParseBytes(converted)
	isStream := parsed.Get("stream").Bool()

	log.WithField("request_id", requestID).WithFields(log.Fields{
		"model":  inbound.Get("model").String(),
		"target": parsed.Get("model").String(),
		"stream": isStream,
	}).Debug("forwarding translated request upstream")

	upstreamURL := cfg.UpstreamURL + upstreamPath
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, upstreamURL, bytes.NewReader(converted))
	if err != nil {
		writeClaudeError(c, http.StatusInternalServerError, "api_error", "failed to build upstream request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if key := upstreamKey(cfg, c.Request.Header); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	// OpenRouter attribution headers; client-supplied values win.
	misc.EnsureHeader(req.Header, c.Request.Header, "HTTP-Referer", "https://github.com/loomino-brkh/claude-proxy")
	misc.EnsureHeader(req.Header, c.Request.Header, "X-Title", "claude-proxy")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// Client went away; nothing useful to write.
			c.Abort()
			return
		}
		log.WithField("request_id", requestID).WithError(err).Error("upstream request failed")
		writeClaudeError(c, http.StatusBadGateway, "api_error", "failed to reach upstream")
		return
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("failed to close upstream response body")
		}
	}()

	// Pipe when the client asked for a stream or when the upstream answers
	// with one anyway; buffering an open event stream would hold the
	// response until the upstream hangs up.
	isEventStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	if (isStream || isEventStream) && resp.StatusCode == http.StatusOK {
		h.forwardStream(c, resp, converted, body, requestID)
		return
	}
	h.forwardBuffered(c, resp, converted, body, requestID, requestTimestamp)
}

// forwardBuffered relays a non-streaming upstream response as one payload.
func (h *ProxyHandler) forwardBuffered(c *gin.Context, resp *http.Response, converted, inboundBody []byte, requestID string, requestTimestamp time.Time) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeClaudeError(c, http.StatusBadGateway, "api_error", "failed to read upstream response")
		return
	}

	if errLog := h.requestLogger.LogRequest(
		c.Request.URL.Path,
		c.Request.Method,
		c.Request.Header,
		inboundBody,
		resp.StatusCode,
		resp.Header,
		respBody,
		converted,
		requestID,
		requestTimestamp,
	); errLog != nil {
		log.WithError(errLog).Warn("failed to write request log")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" {
		c.Header("Content-Encoding", encoding)
	}
	c.Data(resp.StatusCode, contentType, respBody)
}

// forwardStream relays an SSE upstream response chunk by chunk.
func (h *ProxyHandler) forwardStream(c *gin.Context, resp *http.Response, converted, inboundBody []byte, requestID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeClaudeError(c, http.StatusInternalServerError, "api_error", "streaming unsupported by connection")
		return
	}

	streamLog, errLog := h.requestLogger.LogStreamingRequest(c.Request.URL.Path, c.Request.Method, c.Request.Header, inboundBody, requestID)
	if errLog != nil {
		log.WithError(errLog).Warn("failed to initialize streaming request log")
		streamLog = &logging.NoOpStreamingLogWriter{}
	}
	defer func() {
		if errClose := streamLog.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to finalize streaming request log")
		}
	}()
	_ = streamLog.WriteUpstreamRequest(converted)
	_ = streamLog.WriteStatus(resp.StatusCode, resp.Header)

	c.Status(resp.StatusCode)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher.Flush()

	buf := make([]byte, 32*1024)
	for {
		n, errRead := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, errWrite := c.Writer.Write(chunk); errWrite != nil {
				log.WithField("request_id", requestID).WithError(errWrite).Debug("client disconnected during stream")
				return
			}
			flusher.Flush()
			streamLog.WriteChunkAsync(chunk)
		}
		if errRead != nil {
			if !errors.Is(errRead, io.EOF) && c.Request.Context().Err() == nil {
				log.WithField("request_id", requestID).WithError(errRead).Warn("upstream stream ended with error")
			}
			return
		}
	}
}

// upstreamKey picks the upstream bearer credential: the configured
// upstream-api-key when present, otherwise the client's own x-api-key or
// Authorization header.
func upstreamKey(cfg *config.Config, headers http.Header) string {
	if key := strings.TrimSpace(cfg.UpstreamAPIKey); key != "" {
		return key
	}
	if key := strings.TrimSpace(headers.Get("x-api-key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(headers.Get("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func writeClaudeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}
