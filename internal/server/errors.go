package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

// errorBody is the envelope every failed request returns.
type errorBody struct {
	Error *types.Error `json:"error"`
}

// batchErrorBody is errorBody plus the items a batch committed before the
// failing one.
type batchErrorBody struct {
	Error   *types.Error         `json:"error"`
	Created []*lifecycle.Created `json:"created"`
}

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindConflict:
		return http.StatusConflict
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindValidation:
		return http.StatusUnprocessableEntity
	case types.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSONError writes err as {"error": {...}} with the status its kind
// maps to. Errors that are not structured are reported as internal without
// leaking their text.
func WriteJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, StatusFor(err), errorBody{Error: envelope(err)})
}

// writeBatchError reports a failed batch along with what it committed.
func writeBatchError(w http.ResponseWriter, err error, created []*lifecycle.Created) {
	if created == nil {
		created = []*lifecycle.Created{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, StatusFor(err), batchErrorBody{Error: envelope(err), Created: created})
}

func envelope(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	e := &types.Error{Kind: "internal", Message: "internal error"}
	var item *lifecycle.ItemError
	if errors.As(err, &item) {
		e = e.WithIndex(item.Index)
	}
	return e
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decode reads a JSON request body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return types.NewValidation("body", "invalid request body: %v", err)
	}
	return nil
}
