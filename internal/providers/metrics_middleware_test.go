package providers

import (
	"dupguard/internal/structures"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockMetrics struct {
	requestEndpoint string
	requestStatus   int
	requestCalls    int
	durationCalls   int
	cacheHits       int
	cacheMisses     int
}

func (m *mockMetrics) IncRequestsTotal(endpoint string, status int) {
	m.requestEndpoint = endpoint
	m.requestStatus = status
	m.requestCalls++
}
func (m *mockMetrics) ObserveRequestDuration(_ string, _ time.Duration) { m.durationCalls++ }
func (m *mockMetrics) IncCacheHits()                                    { m.cacheHits++ }
func (m *mockMetrics) IncCacheMisses()                                  { m.cacheMisses++ }
func (m *mockMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (m *mockMetrics) SetRecordsTotal(_ string, _ int)                  {}
func (m *mockMetrics) ObserveHashDuration(_ time.Duration)              {}
func (m *mockMetrics) IncImagesProcessed(_, _ string)                   {}
func (m *mockMetrics) IncActions(_, _ string)                           {}
func (m *mockMetrics) IncScans(_, _ string)                             {}

type accessLogger struct {
	NopLogger
	debug []string
	warn  []string
	types []TypeEnum
}

func (l *accessLogger) Debugf(t TypeEnum, format string, args ...interface{}) {
	l.types = append(l.types, t)
	l.debug = append(l.debug, fmt.Sprintf(format, args...))
}

func (l *accessLogger) Warnf(t TypeEnum, format string, args ...interface{}) {
	l.types = append(l.types, t)
	l.warn = append(l.warn, fmt.Sprintf(format, args...))
}

var middlewareRoutes = []structures.Route{{Url: "/records"}, {Url: "/policy"}}

func serveThrough(metrics *mockMetrics, logger Logger, method, target string, status int) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte("ok"))
	})
	mw := MetricsMiddleware(metrics, logger, middlewareRoutes, handler)
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
}

func TestMetricsMiddleware_CapturesStatusAndEndpoint(t *testing.T) {
	metrics := &mockMetrics{}
	logger := &accessLogger{}

	serveThrough(metrics, logger, http.MethodGet, "/records?server=1", http.StatusCreated)

	assert.Equal(t, 1, metrics.requestCalls)
	assert.Equal(t, "/records", metrics.requestEndpoint)
	assert.Equal(t, http.StatusCreated, metrics.requestStatus)
	assert.Equal(t, 1, metrics.durationCalls)
	assert.Len(t, logger.debug, 1)
	assert.Contains(t, logger.debug[0], "GET /records -> 201")
	assert.Equal(t, []TypeEnum{TypeAdmin}, logger.types)
}

func TestMetricsMiddleware_DefaultStatus200(t *testing.T) {
	metrics := &mockMetrics{}

	serveThrough(metrics, NopLogger{}, http.MethodGet, "/policy", 0)

	assert.Equal(t, http.StatusOK, metrics.requestStatus)
}

func TestMetricsMiddleware_UnknownPathsShareLabel(t *testing.T) {
	metrics := &mockMetrics{}

	serveThrough(metrics, NopLogger{}, http.MethodGet, "/wp-login.php", http.StatusNotFound)

	assert.Equal(t, unmatchedEndpoint, metrics.requestEndpoint)
	assert.Equal(t, http.StatusNotFound, metrics.requestStatus)
}

func TestMetricsMiddleware_ServerErrorsLogAsWarnings(t *testing.T) {
	metrics := &mockMetrics{}
	logger := &accessLogger{}

	serveThrough(metrics, logger, http.MethodPost, "/policy", http.StatusInternalServerError)

	assert.Empty(t, logger.debug)
	assert.Len(t, logger.warn, 1)
	assert.Contains(t, logger.warn[0], "POST /policy -> 500")
	assert.Equal(t, []TypeEnum{TypeStore}, logger.types)
}

func TestStatusWriter_WriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	sw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, sw.status)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
