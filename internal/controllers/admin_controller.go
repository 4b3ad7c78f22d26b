package controllers

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/services"
	"dupguard/internal/storage"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	scanTimeout        = 30 * time.Minute
)

type AdminController struct {
	logger  providers.Logger
	service services.AdminServiceInterface
}

func NewAdminController(logger providers.Logger, service services.AdminServiceInterface) *AdminController {
	return &AdminController{
		logger:  logger,
		service: service,
	}
}

type policySetRequest struct {
	Server string `json:"server"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
}

type listEditRequest struct {
	Server string `json:"server"`
	ID     string `json:"id"`
	Remove bool   `json:"remove"`
}

type removeRequest struct {
	Server  string `json:"server"`
	Message string `json:"message"`
}

type clearRequest struct {
	Server  string `json:"server"`
	Channel string `json:"channel"`
}

type scanRequest struct {
	Server  string `json:"server"`
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
	Flag    bool   `json:"flag"`
	Reply   bool   `json:"reply"`
	Delete  bool   `json:"delete"`
	Log     bool   `json:"log"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func requireServer(w http.ResponseWriter, server string) bool {
	if server == "" {
		writeError(w, http.StatusBadRequest, errors.New("server is required"))
		return false
	}
	return true
}

// statusFor maps service errors to HTTP statuses. Anything not caused by the
// request is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidPolicy),
		errors.Is(err, storage.ErrUnknownField),
		errors.Is(err, storage.ErrInvalidServer),
		errors.Is(err, services.ErrBadReference),
		errors.Is(err, services.ErrScopeMismatch),
		errors.Is(err, services.ErrNoLogChannel):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNothingStored):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (ac *AdminController) GetPolicy(w http.ResponseWriter, r *http.Request) {
	server := r.URL.Query().Get("server")
	if !requireServer(w, server) {
		return
	}
	writeJSON(w, http.StatusOK, ac.service.Policy(server))
}

func (ac *AdminController) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req policySetRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	p, err := ac.service.SetPolicy(req.Server, req.Field, req.Value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// EditChannels adds a channel to the monitored list, or drops it with
// "remove": true.
func (ac *AdminController) EditChannels(w http.ResponseWriter, r *http.Request) {
	ac.editList(w, r, ac.service.SetChannelMonitored)
}

// EditUsers adds a user to the allowlist, or drops it with "remove": true.
func (ac *AdminController) EditUsers(w http.ResponseWriter, r *http.Request) {
	ac.editList(w, r, ac.service.SetUserAllowed)
}

func (ac *AdminController) editList(w http.ResponseWriter, r *http.Request, edit func(serverID, id string, add bool) (models.ServerPolicy, error)) {
	var req listEditRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	p, err := edit(req.Server, req.ID, !req.Remove)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (ac *AdminController) GetRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	server := q.Get("server")
	if !requireServer(w, server) {
		return
	}
	records := ac.service.Records(server, q.Get("channel"))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(records), "records": records})
}

func (ac *AdminController) RemoveRecords(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	removed, err := ac.service.RemoveMessage(req.Server, req.Message)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (ac *AdminController) ClearRecords(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	res, err := ac.service.Clear(req.Server, req.Channel)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": res.Removed, "backed_up": res.BackedUp})
}

func (ac *AdminController) ClearFlags(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
	defer cancel()
	res, err := ac.service.ClearFlags(ctx, req.Server, req.Channel, req.Limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked": res.Checked, "cleared": res.Cleared, "errors": res.Errors, "stopped": res.Stopped,
	})
}

// Scan runs synchronously; the request context bounds it.
func (ac *AdminController) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) || !requireServer(w, req.Server) {
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
	defer cancel()

	report, err := ac.service.Scan(ctx, services.ScanRequest{
		ServerID:    req.Server,
		ChannelID:   req.Channel,
		Limit:       req.Limit,
		Actions:     services.ActionSet{Reply: req.Reply, React: req.Flag, Delete: req.Delete, Log: req.Log},
		RequestedBy: "http",
	})
	if err != nil {
		ac.logger.Warnf(providers.TypeAdmin, "Scan of %s/%s failed: %s", req.Server, req.Channel, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse(report))
}

func scanResponse(r services.ScanReport) map[string]any {
	return map[string]any{
		"run_id":     r.RunID,
		"messages":   r.Messages,
		"images":     r.Images,
		"groups":     r.Groups,
		"added":      r.Added,
		"updated":    r.Updated,
		"violations": r.Violations,
		"replied":    r.Replied,
		"flagged":    r.Flagged,
		"deleted":    r.Deleted,
		"logged":     r.Logged,
		"skipped":    r.Skipped,
		"errors":     r.Errors,
		"disabled":   r.Disabled,
		"cancelled":  r.Cancelled,
		"elapsed_ms": r.Elapsed.Milliseconds(),
		"summary":    r.String(),
	}
}
