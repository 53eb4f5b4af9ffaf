package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewStatusHandler 本地状态接口：指标、健康状态和最近日志
func NewStatusHandler(a *App) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", a.serveHealth)
	r.Get("/logs", a.serveLogs)
	return r
}

func (a *App) serveHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"shell":  "ok",
		"leases": a.Sessions.LiveLeases(),
		"tabs":   a.Sessions.Registry().Len(),
	}
	if err := a.Client.Health(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["shell"] = string(types.KindOf(err))
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (a *App) serveLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	logs := a.Logs.Query(types.LogQuery{
		Keyword:  q.Get("keyword"),
		Limit:    limit,
		Platform: q.Get("platform"),
		Level:    types.LogLevel(q.Get("level")),
	})
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
