package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veriqan/internal/audit"
	"veriqan/internal/sla"
	id "veriqan/pkg/domain"
)

// TimelineService reconstructs the audit history of a case.
type TimelineService interface {
	Timeline(ctx context.Context, correlationID id.CorrelationID) ([]audit.Record, error)
}

// SLAService reports the deadline status of a case.
type SLAService interface {
	SLAStatus(ctx context.Context, caseID id.CaseID) (sla.Status, error)
}

// CaseHandler handles the case inspection endpoints.
type CaseHandler struct {
	timeline TimelineService
	deadline SLAService
	logger   *slog.Logger
}

// NewCaseHandler creates a new CaseHandler.
func NewCaseHandler(timeline TimelineService, deadline SLAService, logger *slog.Logger) *CaseHandler {
	return &CaseHandler{timeline: timeline, deadline: deadline, logger: logger}
}

// Register registers the case routes with the chi router.
func (h *CaseHandler) Register(r chi.Router) {
	r.Get("/cases/{correlationID}/timeline", h.handleTimeline)
	r.Get("/cases/{caseID}/sla", h.handleSLA)
}

type timelineEntryResponse struct {
	CorrelationID string    `json:"correlationId"`
	CaseID        string    `json:"caseId"`
	Action        string    `json:"action"`
	Stage         string    `json:"stage,omitempty"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
	Details       string    `json:"details,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}

func (h *CaseHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	correlationID, err := id.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.timeline.Timeline(ctx, correlationID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load timeline",
			"correlation_id", correlationID.String(),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	entries := make([]timelineEntryResponse, 0, len(records))
	for _, rec := range records {
		entries = append(entries, timelineEntryResponse{
			CorrelationID: rec.CorrelationID.String(),
			CaseID:        rec.CaseID.String(),
			Action:        string(rec.Action),
			Stage:         string(rec.Stage),
			Success:       rec.Success,
			Timestamp:     rec.Timestamp,
			Details:       rec.Details,
			ErrorMessage:  rec.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

type slaResponse struct {
	Deadline   time.Time `json:"deadline"`
	Remaining  string    `json:"remaining"`
	Escalation string    `json:"escalation"`
	Breached   bool      `json:"breached"`
}

func (h *CaseHandler) handleSLA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := h.deadline.SLAStatus(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slaResponse{
		Deadline:   status.Deadline,
		Remaining:  status.Remaining.String(),
		Escalation: string(status.Escalation),
		Breached:   status.Breached,
	})
}
