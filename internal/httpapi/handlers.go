package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/repo"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type nodePayload struct {
	Name             string               `json:"name"`
	Detail           domain.MonitorDetail `json:"detail"`
	IntervalSec      int                  `json:"monitoring_interval"`
	RetryIntervalSec int                  `json:"retry_interval"`
	MaxCheckAttempts int                  `json:"max_check_attempts"`
	Enabled          *bool                `json:"enabled"`
	CredentialID     string               `json:"credential_id"`
}

func (p nodePayload) toNode() domain.Node {
	n := domain.Node{
		Name:             p.Name,
		Detail:           p.Detail,
		IntervalSec:      p.IntervalSec,
		RetryIntervalSec: p.RetryIntervalSec,
		MaxCheckAttempts: p.MaxCheckAttempts,
		Enabled:          true,
		CredentialID:     p.CredentialID,
	}
	if p.Enabled != nil {
		n.Enabled = *p.Enabled
	}
	if n.Detail.Kind == domain.KindHTTP {
		n.Detail.URL = domain.NormalizeHTTPURL(n.Detail.URL)
		if n.Detail.ExpectedStatus == 0 {
			n.Detail.ExpectedStatus = http.StatusOK
		}
	}
	return n
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var p nodePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	n := p.toNode()
	if n.Detail.TimeoutSec == 0 {
		n.Detail.TimeoutSec = s.DefaultTimeoutSec
	}
	n.ApplyDefaults()
	n.CreatedAt = time.Now().UTC()
	if err := n.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Nodes.Add(r.Context(), &n); err != nil {
		writeError(w, http.StatusInternalServerError, "could not add node")
		return
	}
	if err := s.Monitor.AddNode(n); err != nil {
		// keep the registry and the engine in step
		_ = s.Nodes.Delete(r.Context(), n.ID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.Logger.Info("node_registered",
		zap.Int64("node_id", n.ID),
		zap.String("name", n.Name),
		zap.String("kind", string(n.Detail.Kind)),
		zap.String("target", n.Detail.Target()),
	)
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	var p nodePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	existing, err := s.Nodes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup error")
		return
	}

	n := p.toNode()
	n.ID = id
	n.CreatedAt = existing.CreatedAt
	if n.Detail.TimeoutSec == 0 {
		n.Detail.TimeoutSec = s.DefaultTimeoutSec
	}
	n.ApplyDefaults()
	if err := n.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Nodes.Update(r.Context(), &n); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update node")
		return
	}
	if err := s.Monitor.UpdateNode(n); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	if err := s.Nodes.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete node")
		return
	}
	s.Monitor.RemoveNode(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad node id")
			return
		}
		n, err := s.Nodes.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				writeError(w, http.StatusNotFound, "node not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "lookup error")
			return
		}
		n.Enabled = enabled
		if err := s.Nodes.Update(r.Context(), n); err != nil {
			writeError(w, http.StatusInternalServerError, "could not update node")
			return
		}
		if err := s.Monitor.SetEnabled(id, enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	ns, err := s.Nodes.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	n, err := s.Nodes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup error")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Snapshots())
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	snap, ok := s.Monitor.NodeSnapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node not monitored")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleNodeResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	rs, err := s.Results.ListByNode(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleNodeChanges(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	cs, err := s.Changes.ListChangesByNode(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleNodeUptime(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad node id")
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	pct, err := s.Results.UptimePercent(r.Context(), id, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "uptime error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        id,
		"window_hours":   hours,
		"uptime_percent": pct,
	})
}

type credentialPayload struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // password | key
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "no credential store configured")
		return
	}
	var p credentialPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	sec := &credential.Secret{
		Kind:       credential.Kind(p.Kind),
		Username:   p.Username,
		Password:   []byte(p.Password),
		PrivateKey: []byte(p.PrivateKey),
		Passphrase: []byte(p.Passphrase),
	}
	defer sec.Wipe()

	switch sec.Kind {
	case credential.KindPassword:
		if len(sec.Password) == 0 {
			writeError(w, http.StatusBadRequest, "password credential needs a password")
			return
		}
	case credential.KindKey:
		if len(sec.PrivateKey) == 0 {
			writeError(w, http.StatusBadRequest, "key credential needs a private key")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be password or key")
		return
	}

	id, err := s.Credentials.Add(p.Name, sec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store credential")
		return
	}
	s.Logger.Info("credential_added", zap.String("credential_id", id), zap.String("name", p.Name))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "name": p.Name})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		writeJSON(w, http.StatusOK, []credential.Summary{})
		return
	}
	writeJSON(w, http.StatusOK, s.Credentials.List())
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "no credential store configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Credentials.Delete(id); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete credential")
		return
	}
	s.Logger.Info("credential_deleted", zap.String("credential_id", id))
	w.WriteHeader(http.StatusNoContent)
}
