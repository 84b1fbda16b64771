package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/http/middleware"
	"github.com/yungbote/quizgen-backend/internal/http/response"
	"github.com/yungbote/quizgen-backend/internal/services"
)

type QuizGenerationHandler struct {
	generations services.QuizGenerationService
}

func NewQuizGenerationHandler(generations services.QuizGenerationService) *QuizGenerationHandler {
	return &QuizGenerationHandler{generations: generations}
}

type startGenerationRequest struct {
	DocumentID       uuid.UUID      `json:"document_id"`
	Title            string         `json:"title"`
	QuestionsPerType map[string]int `json:"questions_per_type"`
	Difficulty       string         `json:"difficulty"`
	MaxChunks        int            `json:"max_chunks"`
}

// POST /api/quiz-generations
func (h *QuizGenerationHandler) Start(c *gin.Context) {
	var body startGenerationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.generations.StartGeneration(c.Request.Context(), middleware.UserID(c), jobs.GenerationRequest{
		DocumentID:       body.DocumentID,
		Title:            body.Title,
		QuestionsPerType: body.QuestionsPerType,
		Difficulty:       body.Difficulty,
		MaxChunks:        body.MaxChunks,
	})
	if err != nil {
		respondGenerationError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/quiz-generations
func (h *QuizGenerationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	out, err := h.generations.ListJobs(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": out})
}

// GET /api/quiz-generations/:id
func (h *QuizGenerationHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.generations.GetJob(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/quiz-generations/:id/cancel
func (h *QuizGenerationHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.generations.CancelJob(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		respondGenerationError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

func respondGenerationError(c *gin.Context, err error) {
	var insufficient *ledger.InsufficientTokensError
	switch {
	case errors.As(err, &insufficient):
		response.RespondErrorDetails(c, http.StatusPaymentRequired, "insufficient_tokens", insufficient, gin.H{
			"estimated":   insufficient.Estimated,
			"available":   insufficient.Available,
			"shortfall":   insufficient.Shortfall,
			"ttl_seconds": int64(insufficient.TTL.Seconds()),
		})
	case errors.Is(err, services.ErrActiveJobExists):
		response.RespondError(c, http.StatusConflict, "active_job_exists", services.ErrActiveJobExists)
	case errors.Is(err, services.ErrJobTerminal):
		response.RespondError(c, http.StatusConflict, "job_terminal", services.ErrJobTerminal)
	default:
		response.RespondServiceError(c, err)
	}
}
