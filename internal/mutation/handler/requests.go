package handler

import (
	"strings"

	dErrors "pmhub/pkg/domain-errors"
)

// maxBulkIDs caps one bulk status change.
const maxBulkIDs = 500

// FieldsRequest is the body for create and update.
type FieldsRequest struct {
	Fields          map[string]any `json:"fields"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

// Validate implements httputil.Validatable.
func (r *FieldsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Fields == nil {
		return dErrors.Validation("fields", "is required")
	}
	return nil
}

// TransitionRequest is the body for POST /{entity}/{id}/transitions.
type TransitionRequest struct {
	ToStatus        string         `json:"to_status"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
}

func (r *TransitionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ToStatus = strings.ToLower(strings.TrimSpace(r.ToStatus))
	if r.ToStatus == "" {
		return dErrors.Validation("to_status", "is required")
	}
	return nil
}

// BulkTransitionRequest is the body for POST /{entity}/bulk/transitions.
type BulkTransitionRequest struct {
	IDs      []string       `json:"ids"`
	ToStatus string         `json:"to_status"`
	Fields   map[string]any `json:"fields,omitempty"`
}

func (r *BulkTransitionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.IDs) == 0 {
		return dErrors.Validation("ids", "at least one id is required")
	}
	if len(r.IDs) > maxBulkIDs {
		return dErrors.Validation("ids", "at most 500 ids per request")
	}
	r.ToStatus = strings.ToLower(strings.TrimSpace(r.ToStatus))
	if r.ToStatus == "" {
		return dErrors.Validation("to_status", "is required")
	}
	return nil
}

// PlaceRequest is the body for POST /{entity}/{id}/place. BeforeID names the
// record to place after; AfterID the record to place before.
type PlaceRequest struct {
	BeforeID        string `json:"before_id,omitempty"`
	AfterID         string `json:"after_id,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

func (r *PlaceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.BeforeID = strings.TrimSpace(r.BeforeID)
	r.AfterID = strings.TrimSpace(r.AfterID)
	return nil
}
