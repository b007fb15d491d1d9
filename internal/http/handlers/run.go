package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/feedback-annotator/internal/annotation"
	"github.com/yungbote/feedback-annotator/internal/data/runledger"
	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/http/response"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type RunService interface {
	RunAnnotation(ctx context.Context, limit *int) (domain.RunReport, error)
}

type SummaryService interface {
	Summary(ctx context.Context) (annotation.Summary, error)
}

type RunResponse struct {
	Report domain.RunReport   `json:"report"`
	Error  *response.APIError `json:"error,omitempty"`
}

type RunHandler struct {
	log     *logger.Logger
	runs    RunService
	ledger  runledger.Repo
	summary SummaryService
}

// NewRunHandler wires the on-demand run endpoint. ledger and summary are
// optional; their endpoints answer 404 when nil.
func NewRunHandler(log *logger.Logger, runs RunService, ledger runledger.Repo, summary SummaryService) *RunHandler {
	return &RunHandler{
		log:     log.With("handler", "RunHandler"),
		runs:    runs,
		ledger:  ledger,
		summary: summary,
	}
}

// POST /v1/runs?limit=N
func (h *RunHandler) Trigger(c *gin.Context) {
	var limit *int
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be an integer"))
			return
		}
		limit = &n
	}

	report, err := h.runs.RunAnnotation(c.Request.Context(), limit)
	if err == nil {
		response.RespondOK(c, RunResponse{Report: report})
		return
	}
	_ = c.Error(err)

	status, code := http.StatusInternalServerError, "run_failed"
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		status, code = http.StatusConflict, "run_in_progress"
	case errors.Is(err, domain.ErrRunCanceled):
		status, code = http.StatusServiceUnavailable, "run_canceled"
	}
	apiErr := response.NewAPIError(code, err)
	c.JSON(status, RunResponse{Report: report, Error: &apiErr})
}

// GET /v1/runs?limit=N
func (h *RunHandler) List(c *gin.Context) {
	if h.ledger == nil {
		response.RespondError(c, http.StatusNotFound, "ledger_disabled", errors.New("run ledger is not configured"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.ledger.Latest(c.Request.Context(), limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "ledger_query_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

// GET /v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	if h.ledger == nil {
		response.RespondError(c, http.StatusNotFound, "ledger_disabled", errors.New("run ledger is not configured"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	run, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "ledger_query_failed", err)
		return
	}
	if run == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("run not found"))
		return
	}
	response.RespondOK(c, run)
}

// GET /v1/summary
func (h *RunHandler) Summary(c *gin.Context) {
	if h.summary == nil {
		response.RespondError(c, http.StatusNotFound, "summary_disabled", errors.New("summary is not configured"))
		return
	}
	s, err := h.summary.Summary(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "summary_failed", err)
		return
	}
	response.RespondOK(c, s)
}
