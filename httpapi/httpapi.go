// Package httpapi is the thin route layer over the engine. It parses
// requests, maps them to engine calls, and translates the error taxonomy to
// status codes; no caching or synchronization semantics live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/unkn0wn-root/identicache"
	"github.com/unkn0wn-root/identicache/identity"
)

// AppHeader carries the application tag selecting the backing store.
const AppHeader = "X-App-Name"

type Server struct {
	engine *identicache.Engine
	log    identicache.Logger
}

// NewRouter builds the HTTP surface over the engine.
func NewRouter(engine *identicache.Engine, log identicache.Logger) *mux.Router {
	if log == nil {
		log = identicache.NopLogger{}
	}
	s := &Server{engine: engine, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/identity", s.handleIdentity).Methods(http.MethodPost)
	r.HandleFunc("/auth", s.handleAuth).Methods(http.MethodPost)
	r.HandleFunc("/check", s.handleCheck).Methods(http.MethodGet)
	r.HandleFunc("/synced-records", s.handleSyncedRecords).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	return r
}

type identityRequest struct {
	User *identity.Record `json:"user"`
}

// handleIdentity is create-or-fetch: 200 when the record was found (cache or
// backend), 201 when it was synthesized.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appTag(w, r)
	if !ok {
		return
	}
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == nil {
		writeError(w, http.StatusBadRequest, "missing user or app name")
		return
	}

	rec, created, err := s.engine.ResolveOrCreate(r.Context(), app, *req.User)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"user": rec})
}

type authRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appTag(w, r)
	if !ok {
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email or app name")
		return
	}

	rec, err := s.engine.Authenticate(r.Context(), app, req.Email)
	if err != nil {
		if errors.Is(err, identicache.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found.")
			return
		}
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": rec})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email required")
		return
	}

	// The app tag is optional here; without it every backend is probed.
	var app identity.App
	if raw := r.Header.Get(AppHeader); raw != "" {
		parsed, ok := identity.ParseApp(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown app name")
			return
		}
		app = parsed
	}

	exists, source, err := s.engine.Exists(r.Context(), app, email)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := map[string]any{"exists": exists}
	if exists {
		resp["source"] = source
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncedRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.SyncedRecords()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	batchSize := 0
	if raw := r.URL.Query().Get("batchSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid batchSize")
			return
		}
		batchSize = n
	}

	report, err := s.engine.FullSync(r.Context(), batchSize)
	if err != nil {
		s.log.Error("manual sync failed", identicache.Fields{"err": err})
		writeError(w, http.StatusInternalServerError, "Manual sync failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Manual sync complete",
		"entries": len(report.Lines),
	})
}

func (s *Server) appTag(w http.ResponseWriter, r *http.Request) (identity.App, bool) {
	raw := r.Header.Get(AppHeader)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing app name")
		return "", false
	}
	app, ok := identity.ParseApp(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown app name")
		return "", false
	}
	return app, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var verr *identicache.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, identicache.ErrUnsupportedApp):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", identicache.Fields{"err": err})
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
