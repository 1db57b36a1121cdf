package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signupReq struct {
	Name        string `json:"name" binding:"required,max=200"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
	PhoneNumber string `json:"phone_number" binding:"omitempty,e164"`
}

// POST /api/auth/signup
func (a *App) SignupHandler(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		a.fail(c, fmt.Errorf("hash password: %w", err))
		return
	}

	u := User{
		ID:           newID(),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.Users.CreateUser(c.Request.Context(), &u); err != nil {
		a.fail(c, err)
		return
	}
	a.Log.Info("user created", zap.String("user_id", u.ID))
	c.JSON(http.StatusCreated, gin.H{"user_id": u.ID, "email": u.Email})
}

type signinReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// POST /api/auth/signin
func (a *App) SigninHandler(c *gin.Context) {
	var req signinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}

	u, err := a.Users.UserByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := verifyPassword(u.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := a.Tokens.Issue(u)
	if err != nil {
		a.fail(c, fmt.Errorf("issue token: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer", "user": u})
}

// GET /api/auth/profile
func (a *App) ProfileHandler(c *gin.Context) {
	u, err := a.Users.UserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// DELETE /api/auth/delete
func (a *App) DeleteUserHandler(c *gin.Context) {
	userID := currentUserID(c)
	ctx := c.Request.Context()
	if err := a.Users.DeleteUser(ctx, userID); err != nil {
		a.fail(c, err)
		return
	}
	if err := a.Cache.Invalidate(ctx, userID); err != nil {
		a.Log.Warn("slot cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type forgotPasswordReq struct {
	Email string `json:"email" binding:"required,email"`
}

// POST /api/auth/forgot-password
func (a *App) ForgotPasswordHandler(c *gin.Context) {
	var req forgotPasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	u, err := a.Users.UserByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("user %w", ErrNotFound)
		}
		a.fail(c, err)
		return
	}

	token, err := a.Tokens.IssueReset(u)
	if err != nil {
		a.fail(c, fmt.Errorf("issue reset token: %w", err))
		return
	}
	link := strings.TrimRight(a.FrontendURL, "/") + "/reset-password/?token=" + url.QueryEscape(token)
	body := "To reset your password, open the following link: " + link
	if err := a.Mailer.Send(u.Email, "Reset Your Password", body); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reset password email sent"})
}

type resetPasswordReq struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

// POST /api/auth/reset-password
func (a *App) ResetPasswordHandler(c *gin.Context) {
	var req resetPasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	claims, err := a.Tokens.VerifyReset(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired reset token"})
		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		a.fail(c, fmt.Errorf("hash password: %w", err))
		return
	}
	if err := a.Users.UpdatePassword(c.Request.Context(), claims.Subject, hash); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset successfully"})
}
