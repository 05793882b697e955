// Package rest implements a read-only status/diagnostics HTTP API: a
// snapshot of link state and device-table contents plus the recent
// command-audit trail, behind JWT bearer auth. Adapted from the engine
// codebase's pkg/api/rest/server.go and its pkg/api/middleware auth
// handler, narrowed from the generic multi-gateway admin API down to this
// bridge's own read-only surface.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/proctorlabs/rvlink-bridge/internal/audit"
	"github.com/proctorlabs/rvlink-bridge/internal/ble"
	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
)

// LinkStateProvider is the subset of *ble.LinkManager the API needs.
type LinkStateProvider interface {
	State() ble.State
}

// DeviceLister is the subset of *registry.Registry the API needs.
type DeviceLister interface {
	AllReadyEntries() []*registry.DeviceEntry
}

// AuditReader is the subset of *audit.Log the API needs; nil when the
// audit trail is disabled.
type AuditReader interface {
	Recent(n int) ([]audit.Record, error)
}

// Config configures the REST server.
type Config struct {
	Port      int
	JWTSecret string // empty disables auth (local-only deployments)
}

// Server serves the bridge's diagnostics API.
type Server struct {
	link   LinkStateProvider
	reg    DeviceLister
	auditL AuditReader
	cfg    Config
	srv    *http.Server
	log    *logger.Logger
}

// NewServer constructs a Server. auditL may be nil if the audit trail is
// disabled.
func NewServer(link LinkStateProvider, reg DeviceLister, auditL AuditReader, cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	return &Server{link: link, reg: reg, auditL: auditL, cfg: cfg, log: log}
}

// Start begins serving in the background.
func (s *Server) Start() {
	r := mux.NewRouter()
	s.registerRoutes(r)

	var handler http.Handler = r
	if s.cfg.JWTSecret != "" {
		handler = s.authMiddleware(r)
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.srv = &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("rest server error", "error", err)
		}
	}()
	s.log.Info("rest api listening", "addr", addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/devices", s.handleDevices).Methods("GET")
	v1.HandleFunc("/audit/recent", s.handleAuditRecent).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	LinkState    string `json:"link_state"`
	ReadyDevices int    `json:"ready_devices"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		LinkState:    s.link.State().String(),
		ReadyDevices: len(s.reg.AllReadyEntries()),
	})
}

type deviceSnapshot struct {
	UniqueID    string `json:"unique_id"`
	DisplayName string `json:"display_name"`
	EntityType  string `json:"entity_type"`
	State       string `json:"state"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.AllReadyEntries()
	out := make([]deviceSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, deviceSnapshot{
			UniqueID:    e.UniqueID,
			DisplayName: e.DisplayName,
			EntityType:  string(e.EntityType),
			State:       e.State().String(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.auditL == nil {
		http.Error(w, "audit trail disabled", http.StatusNotFound)
		return
	}
	records, err := s.auditL.Recent(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// authMiddleware requires a valid HMAC JWT bearer token on every request
// except /health, adapted from the engine codebase's APIKeyAuth handler
// (narrowed to JWT-only, since this bridge has no per-user API key set).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	secret := []byte(s.cfg.JWTSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tokenString := authHeader[len(prefix):]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
