package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"mcpchat/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

//go:embed static
var staticFiles embed.FS

// Routes builds the HTTP surface of the web channel: the chat UI, the
// websocket endpoint and the control panel API.
func (c *WebChannel) Routes(ctx api.ChannelContext) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// The websocket handler hijacks the connection, so it stays outside
	// the instrumented group.
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	router.Group(func(r chi.Router) {
		r.Use(c.instrument)

		r.Get("/", serveIndex)
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": c.Connections()})
		})
		r.Handle("/metrics", c.metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
				p, ok := panelOrUnavailable(w, ctx)
				if !ok {
					return
				}
				writeJSON(w, http.StatusOK, p.Stats(c.sessionFrom(req)))
			})
			r.Get("/tools", func(w http.ResponseWriter, req *http.Request) {
				p, ok := panelOrUnavailable(w, ctx)
				if !ok {
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"description": p.ToolsDescription()})
			})
			r.Post("/clear", func(w http.ResponseWriter, req *http.Request) {
				p, ok := panelOrUnavailable(w, ctx)
				if !ok {
					return
				}
				session := c.sessionFrom(req)
				if session.ChatID == "" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid session"})
					return
				}
				n := p.ClearHistory(session)
				writeJSON(w, http.StatusOK, map[string]any{"cleared": n, "message": api.ClearedMessage(n)})
			})
		})
	})

	return router
}

func (c *WebChannel) sessionFrom(r *http.Request) api.SessionContext {
	id := r.URL.Query().Get("session")
	if !sessionIDPattern.MatchString(id) {
		id = ""
	}
	return api.SessionContext{ChannelID: c.ID(), ChatID: id}
}

func (c *WebChannel) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.metrics.ObserveHTTP(r.Method, route, status)
		slog.Debug("HTTP request", "method", r.Method, "route", route, "status", status,
			"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

func panelOrUnavailable(w http.ResponseWriter, ctx api.ChannelContext) (api.ControlPanel, bool) {
	p := ctx.Panel()
	if p == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "control panel unavailable"})
		return nil, false
	}
	return p, true
}

func serveIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := fs.ReadFile(staticFiles, "static/index.html")
	if err != nil {
		http.Error(w, "UI not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
