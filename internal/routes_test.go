package internal

import (
	"context"
	"dupguard/internal/controllers"
	"dupguard/internal/models"
	"dupguard/internal/services"
	"dupguard/internal/structures"
	"dupguard/internal/testutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- minimal mocks for routes test ---

type routeTestAdmin struct{}

func (m *routeTestAdmin) RemoveMessage(_, _ string) ([]string, error)     { return nil, nil }
func (m *routeTestAdmin) Clear(_, _ string) (services.ClearResult, error) { return services.ClearResult{}, nil }
func (m *routeTestAdmin) Records(_, _ string) []services.RecordView       { return nil }
func (m *routeTestAdmin) RestoreBackup(_ string) (int, error)             { return 0, nil }
func (m *routeTestAdmin) Policy(serverID string) models.ServerPolicy      { return models.DefaultPolicy(serverID) }
func (m *routeTestAdmin) Servers() []string                               { return nil }
func (m *routeTestAdmin) SetPolicy(_, _ string, _ any) (models.ServerPolicy, error) {
	return models.ServerPolicy{}, nil
}
func (m *routeTestAdmin) SetChannelMonitored(_, _ string, _ bool) (models.ServerPolicy, error) {
	return models.ServerPolicy{}, nil
}
func (m *routeTestAdmin) SetUserAllowed(_, _ string, _ bool) (models.ServerPolicy, error) {
	return models.ServerPolicy{}, nil
}
func (m *routeTestAdmin) ClearFlags(_ context.Context, _, _ string, _ int) (services.ClearFlagsResult, error) {
	return services.ClearFlagsResult{}, nil
}
func (m *routeTestAdmin) Scan(_ context.Context, _ services.ScanRequest) (services.ScanReport, error) {
	return services.ScanReport{}, nil
}

func newRouteMux(t *testing.T, token string) *http.ServeMux {
	t.Helper()
	ac := controllers.NewAdminController(&testutil.MockLogger{}, &routeTestAdmin{})
	conf := &structures.Config{WebServer: structures.Server{AdminToken: token}}

	mux := http.NewServeMux()
	for _, r := range InitRoutes(ac, conf).GetRoutes() {
		mux.Handle(r.Url, r.Handler)
	}
	return mux
}

func TestInitRoutes_RegistersAdminRoutes(t *testing.T) {
	ac := controllers.NewAdminController(&testutil.MockLogger{}, &routeTestAdmin{})
	routes := InitRoutes(ac, &structures.Config{}).GetRoutes()

	require.Len(t, routes, 8)

	urls := make([]string, len(routes))
	for i, r := range routes {
		urls[i] = r.Url
	}

	assert.Contains(t, urls, "/policy")
	assert.Contains(t, urls, "/policy/channels")
	assert.Contains(t, urls, "/policy/users")
	assert.Contains(t, urls, "/records")
	assert.Contains(t, urls, "/records/remove")
	assert.Contains(t, urls, "/records/clear")
	assert.Contains(t, urls, "/flags/clear")
	assert.Contains(t, urls, "/scan")
}

func TestInitRoutes_MethodEnforcement(t *testing.T) {
	mux := newRouteMux(t, "")

	// /policy answers both GET and POST
	req := httptest.NewRequest(http.MethodGet, "/policy?server=1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/policy", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// POST-only scan rejects GET
	req = httptest.NewRequest(http.MethodGet, "/scan", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestInitRoutes_BearerAuth(t *testing.T) {
	mux := newRouteMux(t, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/records?server=1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/records?server=1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/records?server=1", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
