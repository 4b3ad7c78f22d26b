package controllers

import (
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/services"
	"fmt"
	"net/http"
	"slices"
	"time"
)

type HealthController struct {
	admin     services.AdminServiceInterface
	cache     providers.CacheProviderInterface
	platform  string
	startTime time.Time
}

type serverHealth struct {
	ID      string `json:"id"`
	Scope   string `json:"scope"`
	Records int    `json:"records"`
}

type healthResponse struct {
	Status        string                `json:"status"`
	Platform      string                `json:"platform"`
	Uptime        string                `json:"uptime"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Servers       int                   `json:"servers"`
	Server        *serverHealth         `json:"server,omitempty"`
	Cache         *providers.CacheStats `json:"cache,omitempty"`
}

// Health reports liveness. With ?server= it also counts that server's
// stored fingerprints, which costs a pass over its records.
func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(hc.startTime)
	resp := healthResponse{
		Status:        "ok",
		Platform:      hc.platform,
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	servers := hc.admin.Servers()
	resp.Servers = len(servers)
	if id := r.URL.Query().Get("server"); id != "" {
		if !slices.Contains(servers, id) {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown server %q", id))
			return
		}
		resp.Server = &serverHealth{
			ID:      id,
			Scope:   string(hc.admin.Policy(id).Scope),
			Records: len(hc.admin.Records(id, "")),
		}
	}
	if rep, ok := hc.cache.(providers.CacheStatsReporter); ok {
		stats := rep.Stats()
		resp.Cache = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%dh%dm%ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func NewHealthController(admin services.AdminServiceInterface, cache providers.CacheProviderInterface, client platform.Client) *HealthController {
	return &HealthController{
		admin:     admin,
		cache:     cache,
		platform:  client.Name(),
		startTime: time.Now(),
	}
}
