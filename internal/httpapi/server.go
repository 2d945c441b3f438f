// Package httpapi exposes the monitoring engine over HTTP: node CRUD,
// live status, check history and uptime, and credential administration.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/httpapi/middleware"
	"github.com/casey/netmon/internal/repo"
	"github.com/casey/netmon/internal/scheduler"
)

// Monitor is the slice of the scheduling engine the API needs.
// *scheduler.Engine satisfies it.
type Monitor interface {
	AddNode(n domain.Node) error
	UpdateNode(n domain.Node) error
	RemoveNode(id int64)
	SetEnabled(id int64, enabled bool) error
	Snapshots() []scheduler.Snapshot
	NodeSnapshot(id int64) (scheduler.Snapshot, bool)
}

// CredentialAdmin is the management surface of the credential store.
// Resolution stays inside the engine; the API never returns secrets.
type CredentialAdmin interface {
	Add(name string, sec *credential.Secret) (string, error)
	List() []credential.Summary
	Delete(id string) error
}

type Server struct {
	Logger      *zap.Logger
	Nodes       repo.NodeStore
	Results     repo.ResultStore
	Changes     repo.StatusChangeStore
	Monitor     Monitor
	Credentials CredentialAdmin // may be nil when no store is configured
	Keys        middleware.Keys
	RatePerMin  int

	// DefaultTimeoutSec, when set, is applied to registered nodes that
	// configure no per-check timeout of their own.
	DefaultTimeoutSec int
}

func NewServer(l *zap.Logger, ns repo.NodeStore, rs repo.ResultStore, cs repo.StatusChangeStore, m Monitor) *Server {
	return &Server{Logger: l, Nodes: ns, Results: rs, Changes: cs, Monitor: m}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.RateLimit(s.RatePerMin, s.RatePerMin))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAny(s.Keys))
		r.Get("/api/nodes", s.handleListNodes)
		r.Get("/api/nodes/{id}", s.handleGetNode)
		r.Get("/api/nodes/{id}/results", s.handleNodeResults)
		r.Get("/api/nodes/{id}/changes", s.handleNodeChanges)
		r.Get("/api/nodes/{id}/uptime", s.handleNodeUptime)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/status/{id}", s.handleNodeStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(s.Keys))
		r.Post("/api/nodes", s.handleAddNode)
		r.Put("/api/nodes/{id}", s.handleUpdateNode)
		r.Delete("/api/nodes/{id}", s.handleDeleteNode)
		r.Post("/api/nodes/{id}/enable", s.handleSetEnabled(true))
		r.Post("/api/nodes/{id}/disable", s.handleSetEnabled(false))

		r.Post("/api/credentials", s.handleAddCredential)
		r.Get("/api/credentials", s.handleListCredentials)
		r.Delete("/api/credentials/{id}", s.handleDeleteCredential)
	})

	return r
}
