package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vk/assetflow/internal/report"
)

// statusMux builds the read-only query surface: job states, skip events and
// sealed run reports.
func (a *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.scheduler.JobStatuses())
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.scheduler.Events())
	})
	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		reports := a.store.List()
		views := make([]report.View, 0, len(reports))
		for _, rep := range reports {
			views = append(views, rep.Snapshot())
		}
		writeJSON(w, views)
	})
	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}
		rep, ok := a.store.Get(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, rep.Snapshot())
	})
	return mux
}

// startStatusServer serves statusMux until ctx is canceled.
func (a *App) startStatusServer(ctx context.Context, port int) error {
	mux := a.statusMux()

	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind status endpoint on %s: %w", addr, err)
	}
	a.logger.Info("Status endpoint listening.", "addr", addr)

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Status endpoint failed.", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
