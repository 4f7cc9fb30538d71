package server

import (
	"net/http"

	"github.com/workboard/workboard/internal/claim"
	"github.com/workboard/workboard/internal/types"
)

type createBoardBody struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request, req types.Requester) {
	var body createBoardBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	board, err := s.engine.CreateBoard(r.Context(), body.Name, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request, req types.Requester) {
	boards, err := s.engine.ListBoards(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if boards == nil {
		boards = []*types.Board{}
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	board, err := s.engine.GetBoard(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views, err := s.engine.Columns(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type wipBody struct {
	WIPLimit int `json:"wip_limit"`
}

func (s *Server) handleSetWIPLimit(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body wipBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	col, err := s.engine.SetWIPLimit(r.Context(), id, types.Stage(r.PathValue("stage")), body.WIPLimit, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// nextBody keeps "task" present as null when nothing is available.
type nextBody struct {
	Task *types.Task `json:"task"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.claims.Next(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextBody{Task: task})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req types.Requester) {
	id, err := boardID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body claim.ClaimRequest
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	body.BoardID = id
	body.Requester = req
	out, err := s.claims.SelectAndClaim(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
