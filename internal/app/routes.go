package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts every endpoint on r.
func (a *App) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// OAuth2 callback (must be outside auth)
	r.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	auth := a.RequireAuth()
	api := r.Group("/api")
	{
		users := api.Group("/auth")
		{
			users.POST("/signup", a.SignupHandler)
			users.POST("/signin", a.SigninHandler)
			users.POST("/forgot-password", a.ForgotPasswordHandler)
			users.POST("/reset-password", a.ResetPasswordHandler)
			users.GET("/profile", auth, a.ProfileHandler)
			users.DELETE("/delete", auth, a.DeleteUserHandler)
		}

		availability := api.Group("/availabilities")
		{
			availability.POST("", auth, a.CreateAvailabilityHandler)
			availability.GET("/:userId", a.ListAvailabilityHandler)
			availability.PUT("/:availabilityId", auth, a.UpdateAvailabilityHandler)
			availability.DELETE("/:availabilityId", auth, a.DeleteAvailabilityHandler)
		}

		events := api.Group("/events", auth)
		{
			events.POST("", a.CreateEventHandler)
			events.GET("", a.ListEventsHandler)
			events.GET("/:eventId", a.GetEventHandler)
			events.PUT("/:eventId", a.UpdateEventHandler)
			events.DELETE("/:eventId", a.DeleteEventHandler)
		}

		api.GET("/slots/:userId", a.GetSlotsHandler)
		api.POST("/slots/:userId/book", a.BookSlotHandler)

		calendar := api.Group("/calendar", auth)
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
			calendar.GET("/events", a.GetGoogleCalendarEvents)
			calendar.GET("/calendars", a.GetGoogleCalendarList)
			calendar.POST("/import", a.ImportGoogleEventsHandler)
		}
	}
}
