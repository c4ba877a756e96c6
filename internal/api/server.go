// Package api serves status, results, metrics and ad-hoc evaluation over
// HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/normalize"
	"killsense/internal/pipeline"
	"killsense/internal/storage"
	"killsense/internal/validate"
)

const maxBody = 4 << 20

type Server struct {
	cfg     *config.Manager
	pipe    *pipeline.Pipeline
	store   storage.Store
	decoder *normalize.Decoder
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string                    `json:"status"`
	Time       string                    `json:"time"`
	Version    string                    `json:"version"`
	ConfigPath string                    `json:"config_path"`
	Uptime     string                    `json:"uptime"`
	Processed  uint64                    `json:"processed"`
	Ingest     ingestStatus              `json:"ingest"`
	Storage    storageStatus             `json:"storage"`
	Prefetch   bool                      `json:"prefetch"`
	Profiles   []pipeline.ProfileSummary `json:"profiles"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	Shared    bool `json:"shared_dedupe"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver,omitempty"`
}

func NewServer(cfg *config.Manager, pipe *pipeline.Pipeline, store storage.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		pipe:    pipe,
		store:   store,
		decoder: normalize.NewDecoder(cfg.Get().Universe.TypeGroups),
		logger:  logger,
		version: version,
	}
}

// Router builds the HTTP routes. timeout bounds each request.
func (s *Server) Router(timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Get("/status", s.handleStatus)
	r.Get("/results", s.handleResults)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/prometheus", s.pipe.Metrics().Handler().ServeHTTP)
	r.Get("/metrics/{profile}", s.handleProfileMetrics)
	r.Post("/evaluate", s.handleEvaluate)
	r.Post("/prefetch", s.handlePrefetch)
	r.Post("/validate", s.handleValidate)
	r.Post("/admin/clear", s.handleClear)
	r.Post("/admin/reload", s.handleReload)
	return r
}

func Start(ctx context.Context, cfg *config.Manager, pipe *pipeline.Pipeline, store storage.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil || pipe == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, pipe, store, logger, version)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Router(current.Timeout),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Uptime:     time.Since(s.pipe.Started()).Round(time.Second).String(),
		Processed:  s.pipe.Processed(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			Shared:    cfg.Ingest.Dedupe.RedisAddr != "",
		},
		Storage:  storageStatus{Enabled: s.store != nil},
		Prefetch: cfg.Pipeline.Prefetch,
		Profiles: s.pipe.Summaries(),
	}
	if s.store != nil {
		resp.Storage.Driver = cfg.Storage.Driver
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	profile := q.Get("profile")

	var list []model.InterestResult
	switch {
	case q.Get("source") == "store":
		if s.store == nil {
			writeError(w, http.StatusNotFound, "storage disabled")
			return
		}
		var err error
		list, err = s.store.ListResults(r.Context(), profile, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		list = s.pipe.Results().Since(ts)
		if profile != "" {
			list = filterProfile(list, profile)
		}
	case profile != "":
		list = s.pipe.Results().ByProfile(profile, limit)
	default:
		list = s.pipe.Results().List(limit)
	}
	if list == nil {
		list = []model.InterestResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": list,
		"count":   len(list),
	})
}

func filterProfile(list []model.InterestResult, profile string) []model.InterestResult {
	out := list[:0]
	for _, r := range list {
		if r.Profile == profile {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Metrics().Snapshot())
}

func (s *Server) handleProfileMetrics(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	stats, ok := s.pipe.Metrics().Get(profile)
	if !ok {
		writeError(w, http.StatusNotFound, "no metrics for profile "+profile)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": profile,
		"metrics": stats,
	})
}

type evaluateResponse struct {
	Result    *model.InterestResult `json:"result"`
	Breakdown []string              `json:"breakdown"`
	Notify    bool                  `json:"should_notify"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")
	if profile == "" {
		writeError(w, http.StatusBadRequest, "profile query parameter required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	ev, err := s.decoder.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.pipe.Evaluate(profile, ev)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Result:    res,
		Breakdown: res.Breakdown(),
		Notify:    res.ShouldNotify(),
	})
}

// handlePrefetch takes the location in the query and, optionally, a body
// with whatever event fields are known ahead of the full killmail.
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profile := q.Get("profile")
	if profile == "" {
		writeError(w, http.StatusBadRequest, "profile query parameter required")
		return
	}
	loc, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil || loc <= 0 {
		writeError(w, http.StatusBadRequest, "location_id must be a positive integer")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var partial *model.Event
	if len(strings.TrimSpace(string(body))) > 0 {
		partial = &model.Event{}
		if err := json.Unmarshal(body, partial); err != nil {
			writeError(w, http.StatusBadRequest, "decode partial event: "+err.Error())
			return
		}
		partial.LocationID = loc
	}
	d, err := s.pipe.Prefetch(profile, loc, partial)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleValidate accepts a single profile, a list of profiles, or a
// document with a profiles key, as YAML or JSON.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	profiles, err := decodeProfiles(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reports := validate.Profiles(profiles, s.pipe.Registry())
	ok := validate.Err(reports) == nil
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"ok":      ok,
		"reports": reports,
	})
}

func decodeProfiles(body []byte) ([]model.Profile, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("empty body")
	}
	var shape any
	if err := yaml.Unmarshal(body, &shape); err != nil {
		return nil, err
	}
	switch v := shape.(type) {
	case []any:
		var list []model.Profile
		if err := yaml.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	case map[string]any:
		if _, ok := v["profiles"]; ok {
			var doc struct {
				Profiles []model.Profile `yaml:"profiles"`
			}
			if err := yaml.Unmarshal(body, &doc); err != nil {
				return nil, err
			}
			return doc.Profiles, nil
		}
		var p model.Profile
		if err := yaml.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []model.Profile{p}, nil
	default:
		return nil, errors.New("expected a profile, a list of profiles, or a profiles document")
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.pipe.Reset()
	case "results":
		s.pipe.Results().Clear()
	case "metrics":
		s.pipe.Metrics().Clear()
	default:
		writeError(w, http.StatusBadRequest, "unknown target "+target)
		return
	}
	if s.logger != nil {
		s.logger.Info("state cleared", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.pipe.UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "profiles": s.pipe.Profiles()})
}

func statusFor(err error) int {
	if errors.Is(err, pipeline.ErrUnknownProfile) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
