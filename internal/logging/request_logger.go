package logging

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/loomino-brkh/claude-proxy/internal/buildinfo"
	"github.com/loomino-brkh/claude-proxy/internal/util"
)

// RequestLogger captures full request/response cycles to per-request files
// when enabled through configuration.
type RequestLogger interface {
	// LogRequest logs a complete non-streaming request/response cycle.
	LogRequest(url, method string, requestHeaders map[string][]string, body []byte, statusCode int, responseHeaders map[string][]string, response, upstreamRequest []byte, requestID string, requestTimestamp time.Time) error

	// LogStreamingRequest initiates logging for a streaming request and
	// returns a writer for chunks.
	LogStreamingRequest(url, method string, headers map[string][]string, body []byte, requestID string) (StreamingLogWriter, error)

	// IsEnabled returns whether request logging is currently enabled.
	IsEnabled() bool
}

// StreamingLogWriter handles real-time logging of streaming response chunks.
type StreamingLogWriter interface {
	// WriteChunkAsync writes a response chunk without blocking the caller.
	WriteChunkAsync(chunk []byte)

	// WriteStatus records the response status and headers.
	WriteStatus(status int, headers map[string][]string) error

	// WriteUpstreamRequest records the payload sent to the upstream API.
	WriteUpstreamRequest(upstreamRequest []byte) error

	// Close finalizes the log file and cleans up resources.
	Close() error
}

// FileRequestLogger implements RequestLogger using one file per request
// under logsDir.
type FileRequestLogger struct {
	// enabled is read by request goroutines and flipped by config reloads.
	enabled atomic.Bool
	logsDir string
}

// NewFileRequestLogger creates a new file-based request logger writing into
// logsDir.
func NewFileRequestLogger(enabled bool, logsDir string) *FileRequestLogger {
	l := &FileRequestLogger{logsDir: logsDir}
	l.enabled.Store(enabled)
	return l
}

// IsEnabled returns whether request logging is currently enabled.
func (l *FileRequestLogger) IsEnabled() bool {
	return l.enabled.Load()
}

// SetEnabled updates the request logging enabled state.
func (l *FileRequestLogger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// LogRequest logs a complete non-streaming request/response cycle to a
// file. The response body is decompressed according to its Content-Encoding
// before writing; when decompression fails the raw bytes are written with an
// annotation instead.
func (l *FileRequestLogger) LogRequest(url, method string, requestHeaders map[string][]string, body []byte, statusCode int, responseHeaders map[string][]string, response, upstreamRequest []byte, requestID string, requestTimestamp time.Time) error {
	if !l.enabled.Load() {
		return nil
	}
	if err := l.ensureLogsDir(); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	responseToWrite, decompressErr := decompressResponse(responseHeaders, response)
	if decompressErr != nil {
		responseToWrite = response
	}

	filePath := filepath.Join(l.logsDir, l.generateFilename(url, requestID))
	logFile, errOpen := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if errOpen != nil {
		return fmt.Errorf("failed to create log file: %w", errOpen)
	}

	if requestTimestamp.IsZero() {
		requestTimestamp = time.Now()
	}
	writeErr := writeRequestInfo(logFile, url, method, requestHeaders, body, requestTimestamp)
	if writeErr == nil {
		writeErr = writeUpstreamSection(logFile, upstreamRequest)
	}
	if writeErr == nil {
		writeErr = writeResponseSection(logFile, statusCode, true, responseHeaders, bytes.NewReader(responseToWrite), decompressErr)
	}

	if errClose := logFile.Close(); errClose != nil {
		log.WithError(errClose).Warn("failed to close request log file")
		if writeErr == nil {
			return errClose
		}
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write log file: %w", writeErr)
	}
	return nil
}

// LogStreamingRequest initiates logging for a streaming request. Response
// chunks are spooled to a temp file by a background goroutine and the final
// log is assembled on Close.
func (l *FileRequestLogger) LogStreamingRequest(url, method string, headers map[string][]string, body []byte, requestID string) (StreamingLogWriter, error) {
	if !l.enabled.Load() {
		return &NoOpStreamingLogWriter{}, nil
	}
	if err := l.ensureLogsDir(); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	requestHeaders := make(map[string][]string, len(headers))
	for key, values := range headers {
		requestHeaders[key] = append([]string(nil), values...)
	}

	responseBodyFile, errCreate := os.CreateTemp(l.logsDir, "response-body-*.tmp")
	if errCreate != nil {
		return nil, fmt.Errorf("failed to create response body temp file: %w", errCreate)
	}

	writer := &FileStreamingLogWriter{
		logFilePath:      filepath.Join(l.logsDir, l.generateFilename(url, requestID)),
		url:              url,
		method:           method,
		timestamp:        time.Now(),
		requestHeaders:   requestHeaders,
		requestBody:      bytes.Clone(body),
		responseBodyPath: responseBodyFile.Name(),
		responseBodyFile: responseBodyFile,
		chunkChan:        make(chan []byte, 100),
		closeChan:        make(chan struct{}),
		errorChan:        make(chan error, 1),
	}

	go writer.asyncWriter()

	return writer, nil
}

func (l *FileRequestLogger) ensureLogsDir() error {
	if _, err := os.Stat(l.logsDir); os.IsNotExist(err) {
		return os.MkdirAll(l.logsDir, 0o755)
	}
	return nil
}

var filenameSanitizer = regexp.MustCompile(`[<>:"|?*\s/\\]+`)

// generateFilename creates a filename from the URL path, timestamp, and
// request ID. Format: v1-messages-2026-08-30T195811-a1b2c3d4.log
func (l *FileRequestLogger) generateFilename(url, requestID string) string {
	path := url
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	path = strings.TrimPrefix(path, "/")

	sanitized := strings.Trim(filenameSanitizer.ReplaceAllString(path, "-"), "-")
	if sanitized == "" {
		sanitized = "root"
	}

	if requestID == "" {
		requestID = uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s-%s-%s.log", sanitized, time.Now().Format("2006-01-02T150405"), requestID)
}

func writeRequestInfo(w io.Writer, url, method string, headers map[string][]string, body []byte, timestamp time.Time) error {
	var content strings.Builder
	content.WriteString("=== REQUEST INFO ===\n")
	content.WriteString(fmt.Sprintf("Version: %s\n", buildinfo.Version))
	content.WriteString(fmt.Sprintf("URL: %s\n", url))
	content.WriteString(fmt.Sprintf("Method: %s\n", method))
	content.WriteString(fmt.Sprintf("Timestamp: %s\n", timestamp.Format(time.RFC3339Nano)))
	content.WriteString("\n=== HEADERS ===\n")
	for key, values := range headers {
		for _, value := range values {
			content.WriteString(fmt.Sprintf("%s: %s\n", key, util.MaskSensitiveHeaderValue(key, value)))
		}
	}
	content.WriteString("\n=== REQUEST BODY ===\n")
	content.Write(body)
	content.WriteString("\n\n")

	_, err := io.WriteString(w, content.String())
	return err
}

func writeUpstreamSection(w io.Writer, upstreamRequest []byte) error {
	if len(upstreamRequest) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "=== UPSTREAM REQUEST ===\n"); err != nil {
		return err
	}
	if _, err := w.Write(upstreamRequest); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}

func writeResponseSection(w io.Writer, statusCode int, statusWritten bool, responseHeaders map[string][]string, responseReader io.Reader, decompressErr error) error {
	if _, err := io.WriteString(w, "=== RESPONSE ===\n"); err != nil {
		return err
	}
	if statusWritten {
		if _, err := io.WriteString(w, fmt.Sprintf("Status: %d\n", statusCode)); err != nil {
			return err
		}
	}
	for key, values := range responseHeaders {
		for _, value := range values {
			if _, err := io.WriteString(w, fmt.Sprintf("%s: %s\n", key, value)); err != nil {
				return err
			}
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if responseReader != nil {
		if _, err := io.Copy(w, responseReader); err != nil {
			return err
		}
	}
	if decompressErr != nil {
		if _, err := io.WriteString(w, fmt.Sprintf("\n[DECOMPRESSION ERROR: %v]", decompressErr)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// decompressResponse decodes the response body according to its
// Content-Encoding header. Unknown or absent encodings return the body
// unchanged.
func decompressResponse(responseHeaders map[string][]string, response []byte) ([]byte, error) {
	if len(responseHeaders) == 0 || len(response) == 0 {
		return response, nil
	}

	var contentEncoding string
	for key, values := range responseHeaders {
		if strings.EqualFold(key, "content-encoding") && len(values) > 0 {
			contentEncoding = strings.ToLower(values[0])
			break
		}
	}

	switch contentEncoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(response))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close gzip reader in request logger")
			}
		}()
		return io.ReadAll(reader)
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(response))
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close deflate reader in request logger")
			}
		}()
		return io.ReadAll(reader)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(response)))
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(response))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	default:
		return response, nil
	}
}

// FileStreamingLogWriter implements StreamingLogWriter for file-based
// streaming logs. Chunks are spooled to a temp file to avoid holding large
// responses in memory; the final log file is assembled when Close is called.
type FileStreamingLogWriter struct {
	logFilePath      string
	url              string
	method           string
	timestamp        time.Time
	requestHeaders   map[string][]string
	requestBody      []byte
	responseBodyPath string
	responseBodyFile *os.File
	chunkChan        chan []byte
	closeChan        chan struct{}
	errorChan        chan error

	responseStatus  int
	statusWritten   bool
	responseHeaders map[string][]string
	upstreamRequest []byte
}

// WriteChunkAsync writes a response chunk without blocking. When the spool
// channel is full the chunk is skipped.
func (w *FileStreamingLogWriter) WriteChunkAsync(chunk []byte) {
	if w.chunkChan == nil {
		return
	}
	chunkCopy := bytes.Clone(chunk)
	select {
	case w.chunkChan <- chunkCopy:
	default:
	}
}

// WriteStatus buffers the response status and headers for the final log.
func (w *FileStreamingLogWriter) WriteStatus(status int, headers map[string][]string) error {
	if status == 0 {
		return nil
	}
	w.responseStatus = status
	if headers != nil {
		w.responseHeaders = make(map[string][]string, len(headers))
		for key, values := range headers {
			w.responseHeaders[key] = append([]string(nil), values...)
		}
	}
	w.statusWritten = true
	return nil
}

// WriteUpstreamRequest buffers the upstream payload for the final log.
func (w *FileStreamingLogWriter) WriteUpstreamRequest(upstreamRequest []byte) error {
	if len(upstreamRequest) == 0 {
		return nil
	}
	w.upstreamRequest = bytes.Clone(upstreamRequest)
	return nil
}

// Close finalizes the log file and cleans up resources.
func (w *FileStreamingLogWriter) Close() error {
	if w.chunkChan != nil {
		close(w.chunkChan)
	}
	if w.closeChan != nil {
		<-w.closeChan
		w.chunkChan = nil
	}

	select {
	case errWrite := <-w.errorChan:
		w.cleanupTempFiles()
		return errWrite
	default:
	}

	logFile, errOpen := os.OpenFile(w.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if errOpen != nil {
		w.cleanupTempFiles()
		return fmt.Errorf("failed to create log file: %w", errOpen)
	}

	writeErr := w.writeFinalLog(logFile)
	if errClose := logFile.Close(); errClose != nil {
		log.WithError(errClose).Warn("failed to close request log file")
		if writeErr == nil {
			writeErr = errClose
		}
	}

	w.cleanupTempFiles()
	return writeErr
}

// asyncWriter appends chunks from the channel to the spool file until the
// channel is closed.
func (w *FileStreamingLogWriter) asyncWriter() {
	defer close(w.closeChan)

	reportErr := func(err error) {
		select {
		case w.errorChan <- err:
		default:
		}
	}

	for chunk := range w.chunkChan {
		if w.responseBodyFile == nil {
			continue
		}
		if _, errWrite := w.responseBodyFile.Write(chunk); errWrite != nil {
			reportErr(errWrite)
			if errClose := w.responseBodyFile.Close(); errClose != nil {
				reportErr(errClose)
			}
			w.responseBodyFile = nil
		}
	}

	if w.responseBodyFile == nil {
		return
	}
	if errClose := w.responseBodyFile.Close(); errClose != nil {
		reportErr(errClose)
	}
	w.responseBodyFile = nil
}

func (w *FileStreamingLogWriter) writeFinalLog(logFile *os.File) error {
	if err := writeRequestInfo(logFile, w.url, w.method, w.requestHeaders, w.requestBody, w.timestamp); err != nil {
		return err
	}
	if err := writeUpstreamSection(logFile, w.upstreamRequest); err != nil {
		return err
	}

	responseBodyFile, errOpen := os.Open(w.responseBodyPath)
	if errOpen != nil {
		return errOpen
	}
	defer func() {
		if errClose := responseBodyFile.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close response body temp file")
		}
	}()

	return writeResponseSection(logFile, w.responseStatus, w.statusWritten, w.responseHeaders, responseBodyFile, nil)
}

func (w *FileStreamingLogWriter) cleanupTempFiles() {
	if w.responseBodyPath != "" {
		if errRemove := os.Remove(w.responseBodyPath); errRemove != nil {
			log.WithError(errRemove).Warn("failed to remove response body temp file")
		}
		w.responseBodyPath = ""
	}
}

// NoOpStreamingLogWriter is used when request logging is disabled.
type NoOpStreamingLogWriter struct{}

func (w *NoOpStreamingLogWriter) WriteChunkAsync(_ []byte) {}

func (w *NoOpStreamingLogWriter) WriteStatus(_ int, _ map[string][]string) error { return nil }

func (w *NoOpStreamingLogWriter) WriteUpstreamRequest(_ []byte) error { return nil }

func (w *NoOpStreamingLogWriter) Close() error { return nil }
