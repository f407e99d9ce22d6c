// Package ops serves health, metrics, reminder inspection and pprof over HTTP.
package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Reminders is the registry surface exposed under /api/reminders.
type Reminders interface {
	List() []scheduler.Info
	Lookup(name string) (scheduler.Info, bool)
	Control(name string, cmd scheduler.Command) error
}

// Handler builds the ops router. Everything except /healthz sits behind the
// bearer token when one is configured.
func Handler(cfg Config, deps Deps, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, accessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearer(cfg.Token))

		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		if deps.Status != nil {
			r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, deps.Status())
			})
		}

		if rem := deps.Reminders; rem != nil {
			r.Get("/api/reminders", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, rem.List())
			})
			r.Get("/api/reminders/{name}", func(w http.ResponseWriter, req *http.Request) {
				info, ok := rem.Lookup(chi.URLParam(req, "name"))
				if !ok {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, info)
			})
			r.Post("/api/reminders/{name}/{action}", func(w http.ResponseWriter, req *http.Request) {
				var cmd scheduler.Command
				switch chi.URLParam(req, "action") {
				case "enable":
					cmd = scheduler.CmdEnable
				case "disable":
					cmd = scheduler.CmdDisable
				default:
					http.Error(w, "unknown action", http.StatusBadRequest)
					return
				}
				controlReply(w, rem.Control(chi.URLParam(req, "name"), cmd))
			})
			r.Delete("/api/reminders/{name}", func(w http.ResponseWriter, req *http.Request) {
				controlReply(w, rem.Control(chi.URLParam(req, "name"), scheduler.CmdDelete))
			})
		}

		if cfg.Pprof {
			r.HandleFunc("/debug/pprof/", pprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", pprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", pprof.Trace)
			r.Handle("/debug/pprof/{profile}", http.HandlerFunc(pprof.Index))
		}
	})
	return r
}

func controlReply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func bearer(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func accessLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
