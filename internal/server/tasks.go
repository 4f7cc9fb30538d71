package server

import (
	"net/http"
	"strconv"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

// target resolves the {board} and {identifier} path values.
func target(r *http.Request) (int64, string, error) {
	id, err := boardID(r)
	if err != nil {
		return 0, "", err
	}
	return id, r.PathValue("identifier"), nil
}

// createBody accepts either a single input or {"items": [...]}.
type createBody struct {
	lifecycle.Input
	Items []lifecycle.Input `json:"items,omitempty"`
}

type batchResult struct {
	Created []*lifecycle.Created `json:"created"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body createBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Items == nil {
		created, err := s.engine.Create(r.Context(), id, body.Input, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	}
	if body.Task != nil || body.Goal != nil {
		s.fail(w, r, types.NewValidation("items", "send either items or a single task or goal"))
		return
	}
	created, err := s.engine.CreateBatch(r.Context(), id, body.Items, req)
	if err != nil {
		if _, ok := types.AsError(err); !ok {
			s.logger.Error("batch create failed", "board", id, "committed", len(created), "error", err)
		}
		writeBatchError(w, err, created)
		return
	}
	writeJSON(w, http.StatusCreated, batchResult{Created: created})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.engine.Show(r.Context(), id, ident, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Delete(r.Context(), id, ident, req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unclaimBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleUnclaim(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body unclaimBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.claims.Unclaim(r.Context(), id, ident, req, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body lifecycle.CompleteRequest
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	body.BoardID, body.Identifier, body.Requester = id, ident, req
	out, err := s.engine.Complete(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type reviewBody struct {
	ReviewStatus types.ReviewStatus `json:"review_status"`
	ReviewNotes  string             `json:"review_notes,omitempty"`
}

func (s *Server) handleSetReviewStatus(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body reviewBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.engine.SetReviewStatus(r.Context(), id, ident, body.ReviewStatus, body.ReviewNotes, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleMarkReviewed(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body lifecycle.MarkReviewedRequest
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	body.BoardID, body.Identifier, body.Requester = id, ident, req
	out, err := s.engine.MarkReviewed(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body lifecycle.MoveRequest
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	body.BoardID, body.Identifier, body.Requester = id, ident, req
	task, err := s.engine.Move(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type dependenciesBody struct {
	Dependencies []string `json:"dependencies"`
}

func (s *Server) handleUpdateDependencies(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body dependenciesBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.engine.UpdateDependencies(r.Context(), id, ident, body.Dependencies, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nodes, err := s.engine.Dependencies(r.Context(), id, ident, recursive(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(nodes))
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nodes, err := s.engine.Dependents(r.Context(), id, ident, recursive(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(nodes))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, ident, err := target(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			s.fail(w, r, types.NewValidation("limit", "invalid limit %q", raw))
			return
		}
	}
	events, err := s.engine.History(r.Context(), id, ident, limit, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
