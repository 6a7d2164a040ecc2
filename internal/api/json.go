package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ecoroute/internal/catalog"
	"ecoroute/internal/errs"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// UnknownIDs lists unresolved hotspot IDs on 409 responses.
	UnknownIDs []string `json:"unknownIds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, Problem{Title: title, Status: status, Detail: detail, Instance: instance})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps the error taxonomy to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		empty        *errs.EmptyInputError
		insufficient *errs.InsufficientDataError
		unknown      *errs.UnknownHotspotError
	)
	p := Problem{Detail: err.Error(), Instance: r.URL.Path}
	switch {
	case errors.As(err, &empty):
		p.Status, p.Title = http.StatusBadRequest, "Empty input"
	case errors.As(err, &insufficient):
		p.Status, p.Title = http.StatusUnprocessableEntity, "Insufficient data"
	case errors.As(err, &unknown):
		p.Status, p.Title, p.UnknownIDs = http.StatusConflict, "Unknown hotspot", unknown.IDs
	case errors.Is(err, hotspot.ErrInvalidParams), errors.Is(err, opt.ErrInvalidRequest):
		p.Status, p.Title = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, catalog.ErrNotFound):
		p.Status, p.Title = http.StatusNotFound, "Not Found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.Status, p.Title = http.StatusServiceUnavailable, "Request cancelled"
	default:
		p.Status, p.Title = http.StatusInternalServerError, "Internal error"
	}
	writeProblemBody(w, p)
}
