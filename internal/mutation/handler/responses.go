package handler

import (
	"net/http"

	"pmhub/internal/mutation/service"
	"pmhub/internal/records/models"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/httputil"
)

type ListResponse struct {
	Records []*models.Record `json:"records"`
	Count   int              `json:"count"`
}

type HistoryResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

type PlaceResponse struct {
	Record     *models.Record `json:"record"`
	Renumbered int            `json:"renumbered"`
}

// BulkOutcome reports one id of a bulk status change.
type BulkOutcome struct {
	ID     string                  `json:"id"`
	OK     bool                    `json:"ok"`
	Status int                     `json:"status"`
	Record *models.Record          `json:"record,omitempty"`
	Error  *httputil.ErrorResponse `json:"error,omitempty"`
}

type BulkResponse struct {
	Outcomes  []BulkOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// FromBulkResult renders per-id outcomes with the status each would have had
// as a single request.
func FromBulkResult(res *service.BulkResult) BulkResponse {
	out := BulkResponse{
		Outcomes:  make([]BulkOutcome, 0, len(res.Outcomes)),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, o := range res.Outcomes {
		if o.Err == nil {
			out.Outcomes = append(out.Outcomes, BulkOutcome{ID: o.ID, OK: true, Status: http.StatusOK, Record: o.Record})
			continue
		}
		status, body := httputil.ToErrorResponse(o.Err)
		out.Outcomes = append(out.Outcomes, BulkOutcome{ID: o.ID, Status: status, Error: &body})
	}
	return out
}
