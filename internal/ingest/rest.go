package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/normalize"
)

const maxBodyBytes = 8 << 20

type RESTServer struct {
	dec    *normalize.Decoder
	out    chan<- *model.Event
	logger *slog.Logger
}

// NewRESTHandler serves POST /events, which takes one killmail or a JSON
// array of them.
func NewRESTHandler(dec *normalize.Decoder, out chan<- *model.Event, logger *slog.Logger) http.Handler {
	s := &RESTServer{dec: dec, out: out, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/events", s.handleEvents)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func StartREST(ctx context.Context, cfg *config.Manager, dec *normalize.Decoder, out chan<- *model.Event, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTHandler(dec, out, logger),
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	events, failed, err := s.dec.DecodeMany(body)
	if err != nil && len(events) == 0 && failed == 0 {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accepted, dropped := 0, 0
	for _, ev := range events {
		ev.Source = "rest"
		if SendNonBlocking(r.Context(), s.out, ev, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}
	if failed > 0 && s.logger != nil {
		s.logger.Warn("rest ingest rejected killmails", "failed", failed, "err", err)
	}
	status := http.StatusAccepted
	if accepted == 0 && (failed > 0 || dropped > 0) {
		status = http.StatusUnprocessableEntity
		if dropped > 0 {
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
		"dropped":  dropped,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
