package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/quizgen-backend/internal/http/middleware"
	"github.com/yungbote/quizgen-backend/internal/http/response"
	"github.com/yungbote/quizgen-backend/internal/services"
)

type TokenHandler struct {
	ledger services.TokenLedger
}

func NewTokenHandler(ledger services.TokenLedger) *TokenHandler {
	return &TokenHandler{ledger: ledger}
}

// GET /api/tokens/balance
func (h *TokenHandler) Balance(c *gin.Context) {
	bal, err := h.ledger.GetBalance(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"balance": bal})
}
