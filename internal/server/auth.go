package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/workboard/workboard/internal/types"
)

// Identity headers. Agents send HeaderAgent; humans send HeaderActor.
const (
	HeaderAgent        = "X-Workboard-Agent"
	HeaderActor        = "X-Workboard-Actor"
	HeaderCapabilities = "X-Workboard-Capabilities"
	HeaderBoard        = "X-Workboard-Board"
)

// requesterFrom builds the caller's identity from request headers.
func requesterFrom(r *http.Request) (types.Requester, error) {
	var req types.Requester
	if name := strings.TrimSpace(r.Header.Get(HeaderAgent)); name != "" {
		req.Name = name
		req.Agent = true
	} else {
		req.Name = strings.TrimSpace(r.Header.Get(HeaderActor))
	}
	if req.Name == "" {
		return req, types.NewForbidden("missing %s or %s header", HeaderAgent, HeaderActor)
	}
	req.Capabilities = types.ParseCapabilities(r.Header.Get(HeaderCapabilities))
	for _, raw := range strings.Split(r.Header.Get(HeaderBoard), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, types.NewValidation(HeaderBoard, "invalid board id %q", raw)
		}
		req.Boards = append(req.Boards, id)
	}
	return req, nil
}

// SetRequester writes req onto outgoing request headers. It is the inverse
// of requesterFrom and is used by the CLI client.
func SetRequester(h http.Header, req types.Requester) {
	if req.Agent {
		h.Set(HeaderAgent, req.Name)
	} else {
		h.Set(HeaderActor, req.Name)
	}
	if len(req.Capabilities) > 0 {
		h.Set(HeaderCapabilities, req.Capabilities.String())
	}
	if len(req.Boards) > 0 {
		ids := make([]string, len(req.Boards))
		for i, b := range req.Boards {
			ids[i] = strconv.FormatInt(b, 10)
		}
		h.Set(HeaderBoard, strings.Join(ids, ","))
	}
}
