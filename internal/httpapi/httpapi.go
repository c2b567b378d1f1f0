// Package httpapi is the thin HTTP/SSE/CORS adapter: chi routing, JSON body
// decoding, CORS, SSE framing and the WebSocket upgrade. It does not import
// internal/session or internal/sshadapter: every admin operation goes
// through internal/admin and attachment through internal/wsproxy, while the
// health, stream and WebSocket handlers reach the session engine only
// through the facade's Engine field.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"termproxy/internal/admin"
	"termproxy/internal/apierr"
	"termproxy/internal/wsproxy"
)

// Server holds everything the HTTP handlers need.
type Server struct {
	Facade         *admin.Facade
	AllowedOrigins []string
	StartedAt      time.Time
	// BasePath is the prefix the router is mounted under (may be ""),
	// used to build the wsPath a client should open for a session.
	BasePath string
}

func (s *Server) wsPath(id string) string {
	return s.BasePath + "/ws/" + id
}

// NewRouter builds the chi router for the whole REST/SSE/WS surface under
// basePath (may be "").
func NewRouter(s *Server, basePath string) http.Handler {
	s.BasePath = basePath
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(s.cors)

	mount := func(router chi.Router) {
		router.Get("/healthz", s.handleHealthz)
		router.Post("/connections", s.handleCreate)
		router.Get("/connections", s.handleList)
		router.Delete("/connections/{id}", s.handleDelete)
		router.Post("/connections/{id}/resize", s.handleResize)
		router.Get("/connections/stream", s.handleStream)
		router.Get("/ws/{id}", s.handleWS)
	}

	if basePath == "" {
		mount(r)
		return r
	}
	r.Route(basePath, mount)
	return r
}

// cors applies an allow-list based CORS policy and answers OPTIONS
// preflights without reaching the routed handler.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "content-type, authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIErr(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.KindInternal, err)
	}
	writeJSON(w, apierr.Status(apiErr.Kind), map[string]string{
		"error":  string(apiErr.Kind),
		"detail": apiErr.Detail,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"ts":       time.Now().UnixMilli(),
		"sessions": s.Facade.Engine.Registry.Len(),
		"version":  s.Facade.Engine.Bus.Version(),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req admin.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErr(w, apierr.New(apierr.KindInvalidRequest, err))
		return
	}
	view, err := s.Facade.Create(r.Context(), req)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	view.WSPath = s.wsPath(view.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Facade.Snapshot()
	for i := range snapshot.Sessions {
		snapshot.Sessions[i].WSPath = s.wsPath(snapshot.Sessions[i].ID)
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Facade.Delete(id); err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErr(w, apierr.New(apierr.KindInvalidRequest, err))
		return
	}
	if err := s.Facade.Resize(id, req.Cols, req.Rows); err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"cols": req.Cols,
		"rows": req.Rows,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	readOnly := r.URL.Query().Get("readOnly") == "1"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	wsproxy.Attach(r.Context(), conn, s.Facade.Engine, id, readOnly)
}
