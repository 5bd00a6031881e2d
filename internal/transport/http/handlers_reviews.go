package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"veriqan/internal/pipeline"
	"veriqan/internal/review"
	id "veriqan/pkg/domain"
	dErrors "veriqan/pkg/domainerrors"
	"veriqan/pkg/outcome"
)

// ReviewService defines the coordinator operations the transport needs.
type ReviewService interface {
	ListPending(ctx context.Context, filter review.Filter, page review.PageRequest) (review.Page, error)
	SubmitDecision(ctx context.Context, caseID id.CaseID, decision review.Decision) error
	Decision(ctx context.Context, caseID id.CaseID) (*review.Decision, error)
}

// Resumer restarts a suspended case after an approving decision. Resumption
// runs detached from the submitting request; the handler only reports whether
// the decision itself was recorded.
type Resumer interface {
	ResumeCase(ctx context.Context, caseID id.CaseID) outcome.Outcome[pipeline.ProcessingSummary]
}

// ReviewHandler handles the manual review endpoints.
type ReviewHandler struct {
	reviews ReviewService
	resumer Resumer
	logger  *slog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(reviews ReviewService, resumer Resumer, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, resumer: resumer, logger: logger}
}

// Register registers the review routes with the chi router.
func (h *ReviewHandler) Register(r chi.Router) {
	r.Get("/reviews", h.handleListPending)
	r.Post("/reviews/{caseID}/decision", h.handleSubmitDecision)
	r.Get("/reviews/{caseID}/decision", h.handleGetDecision)
}

type reviewCaseResponse struct {
	CaseID        string    `json:"caseId"`
	CorrelationID string    `json:"correlationId"`
	ReasonCodes   []string  `json:"reasonCodes"`
	Confidence    float64   `json:"confidence"`
	Status        string    `json:"status"`
	QueuedAt      time.Time `json:"queuedAt"`
}

type reviewPageResponse struct {
	Items  []reviewCaseResponse `json:"items"`
	Number int                  `json:"page"`
	Size   int                  `json:"size"`
	Total  int                  `json:"total"`
}

func (h *ReviewHandler) handleListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := review.Filter{
		Status: review.Status(q.Get("status")),
		Reason: review.ReasonCode(q.Get("reason")),
	}
	if raw := q.Get("max_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "max_confidence must be a number"))
			return
		}
		filter.MaxConfidence = &v
	}
	page := review.PageRequest{
		Number: intQuery(q.Get("page")),
		Size:   intQuery(q.Get("size")),
	}

	result, err := h.reviews.ListPending(ctx, filter, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list pending reviews", "error", err.Error())
		writeError(w, err)
		return
	}

	resp := reviewPageResponse{
		Items:  make([]reviewCaseResponse, 0, len(result.Items)),
		Number: result.Number,
		Size:   result.Size,
		Total:  result.Total,
	}
	for _, rc := range result.Items {
		resp.Items = append(resp.Items, toReviewCaseResponse(rc))
	}
	writeJSON(w, http.StatusOK, resp)
}

type decisionRequest struct {
	ReviewerID               string            `json:"reviewerId"`
	Type                     string            `json:"decisionType"`
	OverriddenFields         map[string]string `json:"overriddenFields,omitempty"`
	OverriddenClassification string            `json:"overriddenClassification,omitempty"`
	Notes                    string            `json:"notes,omitempty"`
}

func (h *ReviewHandler) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	reviewerID, err := id.ParseReviewerID(req.ReviewerID)
	if err != nil {
		writeError(w, err)
		return
	}

	decision := review.Decision{
		CaseID:                   caseID,
		ReviewerID:               reviewerID,
		Type:                     review.DecisionType(req.Type),
		OverriddenFields:         req.OverriddenFields,
		OverriddenClassification: req.OverriddenClassification,
		Notes:                    req.Notes,
	}

	if err := h.reviews.SubmitDecision(ctx, caseID, decision); err != nil {
		if dErrors.HasCode(err, dErrors.CodeAlreadyDecided) {
			h.logger.InfoContext(ctx, "decision already recorded",
				"case_id", caseID.String(),
			)
		} else {
			h.logger.ErrorContext(ctx, "failed to submit decision",
				"case_id", caseID.String(),
				"error", err.Error(),
			)
		}
		writeError(w, err)
		return
	}

	// Approved and overridden decisions restart the pipeline. The restart
	// outlives this request, so it runs on a detached context.
	if decision.Type == review.DecisionApproved || decision.Type == review.DecisionOverridden {
		go h.resume(context.WithoutCancel(ctx), caseID)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ReviewHandler) resume(ctx context.Context, caseID id.CaseID) {
	out := h.resumer.ResumeCase(ctx, caseID)
	if out.IsFailure() {
		h.logger.ErrorContext(ctx, "resume after decision failed",
			"case_id", caseID.String(),
			"error", out.Err().Error(),
		)
	}
}

type decisionResponse struct {
	CaseID                   string            `json:"caseId"`
	ReviewerID               string            `json:"reviewerId"`
	Type                     string            `json:"decisionType"`
	OverriddenFields         map[string]string `json:"overriddenFields,omitempty"`
	OverriddenClassification string            `json:"overriddenClassification,omitempty"`
	Notes                    string            `json:"notes,omitempty"`
	DecidedAt                time.Time         `json:"decidedAt"`
}

func (h *ReviewHandler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	decision, err := h.reviews.Decision(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		CaseID:                   decision.CaseID.String(),
		ReviewerID:               decision.ReviewerID.String(),
		Type:                     string(decision.Type),
		OverriddenFields:         decision.OverriddenFields,
		OverriddenClassification: decision.OverriddenClassification,
		Notes:                    decision.Notes,
		DecidedAt:                decision.DecidedAt,
	})
}

func toReviewCaseResponse(rc review.ReviewCase) reviewCaseResponse {
	codes := make([]string, 0, len(rc.ReasonCodes))
	for _, c := range rc.ReasonCodes {
		codes = append(codes, string(c))
	}
	return reviewCaseResponse{
		CaseID:        rc.CaseID.String(),
		CorrelationID: rc.CorrelationID.String(),
		ReasonCodes:   codes,
		Confidence:    rc.Confidence,
		Status:        string(rc.Status),
		QueuedAt:      rc.QueuedAt,
	}
}

func intQuery(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
