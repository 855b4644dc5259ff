package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/api/middleware"
	"github.com/timmy/eventgallery/internal/domain"
)

// ErrorResponse is the body of every gallery error reply.
type ErrorResponse struct {
	Error   domain.ErrorKind `json:"error"`
	Message string           `json:"message"`
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindPayloadRejected, domain.KindUnsupportedFormat,
		domain.KindInvalidRequest, domain.KindExtractionFailure:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal detail of server-side failures.
func publicMessage(kind domain.ErrorKind, err error) string {
	switch StatusFor(kind) {
	case http.StatusInternalServerError:
		return "internal error while processing the request"
	case http.StatusServiceUnavailable:
		return "a backing service is temporarily unavailable"
	}
	return err.Error()
}

func respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).WithField("kind", kind).Error("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: publicMessage(kind, err)})
}

func invalidRequest(c *gin.Context, op, msg string) {
	respondError(c, domain.Errorf(domain.KindInvalidRequest, op, "%s", msg))
}

// Envelope is the response shape of the event endpoints.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondEnvelope(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func respondEnvelopeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).WithField("kind", kind).Error("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Envelope{Success: false, Error: string(kind), Message: publicMessage(kind, err)})
}
