// Package api serves the local HTTP status surface: session state,
// recent call traces, and a live event stream. It is read-only; the
// debugger protocol itself stays on the debug socket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glesdbg/glesdbg/internal/events"
	"github.com/glesdbg/glesdbg/internal/session"
	"github.com/glesdbg/glesdbg/internal/store"
)

type App struct {
	manager *session.Manager
	calls   store.CallStore
	broker  *events.Broker
}

// NewApp builds the status API. calls and broker may be nil; the
// corresponding endpoints report unavailable.
func NewApp(manager *session.Manager, calls store.CallStore, broker *events.Broker) *App {
	return &App{manager: manager, calls: calls, broker: broker}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.getStatus)
		r.Get("/calls", a.listCalls)
		r.Get("/events", a.streamEvents)
	})

	return r
}

func (a *App) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *App) listCalls(w http.ResponseWriter, r *http.Request) {
	if a.calls == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "call tracing disabled"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = n
	}

	recs, err := a.calls.RecentCalls(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []store.CallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": recs})
}

func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "events disabled"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stream unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.broker.Subscribe(200)
	defer a.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

// Serve runs the status API on addr until ctx is done.
func Serve(ctx context.Context, addr string, app *App) error {
	srv := &http.Server{Addr: addr, Handler: app.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
