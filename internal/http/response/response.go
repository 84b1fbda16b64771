package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/quizgen-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondErrorDetails is RespondError with a structured details object.
func RespondErrorDetails(c *gin.Context, status int, code string, err error, details any) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
			Details: details,
		},
	})
}

// RespondServiceError maps err through apierr and writes the envelope.
// Internal failures are reported without their cause.
func RespondServiceError(c *gin.Context, err error) {
	api := apierr.FromError(err)
	if api.Status >= http.StatusInternalServerError && api.Status != http.StatusServiceUnavailable {
		_ = c.Error(err)
		RespondError(c, api.Status, api.Code, nil)
		return
	}
	RespondError(c, api.Status, api.Code, api)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
