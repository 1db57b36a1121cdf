package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"slot-scheduler/internal/slots"
)

// App carries the handlers' collaborators. Every field is required except
// Google, which is nil when calendar import is not configured.
type App struct {
	Users        UserStore
	Availability AvailabilityStore
	Events       EventStore

	Cache     SlotCache
	Mailer    Mailer
	Publisher Publisher
	Tokens    *Tokens
	Log       *zap.Logger

	Google *oauth2.Config

	DefaultTimezone string
	FrontendURL     string
	Now             func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// badRequest marks caller errors raised at the HTTP boundary.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(msg string) error { return badRequest{msg: msg} }

// fail writes err as {"error": ...} with a status derived from its kind.
// Unclassified errors are logged and hidden behind a generic message.
func (a *App) fail(c *gin.Context, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		c.JSON(http.StatusBadRequest, gin.H{"error": br.msg})
	case errors.Is(err, slots.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		a.Log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
