package http

import (
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// DocumentsResponse is the response body for GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []library.Document `json:"documents"`
	Total     int                `json:"total"`
}

// DeleteResponse is the response body for DELETE /api/v1/documents/:filename.
type DeleteResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// SummaryResponse is the response body for GET /api/v1/documents/:filename/summary.
type SummaryResponse struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
	Provider string `json:"provider,omitempty"`
}

// QueryFailure is returned with 502 when no provider could answer.
type QueryFailure struct {
	Message string             `json:"message"`
	QueryID string             `json:"query_id"`
	State   string             `json:"state"`
	Sources []library.Citation `json:"sources"`
}

// TermResponse is the response body for GET /api/v1/terms/:term.
type TermResponse struct {
	Term    string             `json:"term"`
	Results []library.Citation `json:"results"`
	Total   int                `json:"total"`
}

// ValidateRequest is the request body for POST /api/v1/providers/validate.
type ValidateRequest struct {
	// Credentials maps provider ids to candidate credentials.
	Credentials map[string]string `json:"credentials"`
}

// ValidateResponse is the response body for POST /api/v1/providers/validate.
type ValidateResponse struct {
	Results []providers.Validation `json:"results"`
}
