package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/studyforge/core/internal/middleware"
	jwtpkg "github.com/studyforge/core/internal/pkg/jwt"
	"github.com/studyforge/core/internal/pkg/response"
	sessionpkg "github.com/studyforge/core/internal/pkg/session"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	a := rg.Group("/auth")

	a.POST("/signup", h.signup)
	a.POST("/login", h.login)
	a.POST("/logout", h.logout)
	a.GET("/session", middleware.OptionalAuth(h.svc.db), h.session)
	a.GET("/sessions", authMW, h.listSessions)
	a.POST("/revoke-other-sessions", authMW, h.revokeOtherSessions)
	a.PATCH("/settings", authMW, h.updateSettings)
}

func (h *Handler) signup(c *gin.Context) {
	var dto SignupDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.Signup(&dto)
	if err != nil {
		if errors.Is(err, errEmailAlreadyExists) {
			response.Conflict(c, "this email is already registered")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"id": u.ID, "email": u.Email, "name": u.Name})
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.svc.Login(dto.Email, dto.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, errUserNotFound) || errors.Is(err, errWrongPassword) {
			response.ForbiddenMsg(c, "wrong email or password")
			return
		}
		response.InternalError(c, err)
		return
	}
	setAuthTokenCookie(c, token)
	response.OK(c, loginResponse{Token: token})
}

func (h *Handler) logout(c *gin.Context) {
	token := middleware.NormalizeToken(c.GetHeader("Authorization"))
	if token == "" {
		if raw, err := c.Cookie("sf-token"); err == nil {
			token = middleware.NormalizeToken(raw)
		}
	}
	if token != "" {
		if claims, err := jwtpkg.Parse(token); err == nil {
			sessionID := strings.TrimSpace(claims.SessionID)
			userID := strings.TrimSpace(claims.UserID)
			if sessionID != "" && userID != "" {
				_ = sessionpkg.Revoke(h.svc.db, userID, sessionID)
			}
		}
	}
	clearAuthTokenCookie(c)
	response.OK(c, gin.H{"success": true})
}

func (h *Handler) session(c *gin.Context) {
	if !middleware.IsAuthenticated(c) {
		response.OK(c, nil)
		return
	}
	u, err := h.svc.GetProfile(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if u == nil {
		response.OK(c, nil)
		return
	}
	response.OK(c, profileResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		CloudSync:     u.CloudSync,
		LastLoginTime: u.LastLoginTime,
		Created:       u.CreatedAt,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := sessionpkg.ListActive(h.svc.db, middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, gin.H{
			"id":         s.ID,
			"ip":         s.IP,
			"ua":         s.UA,
			"expires_at": s.ExpiresAt,
			"created":    s.CreatedAt,
			"current":    s.ID == middleware.CurrentSessionID(c),
		})
	}
	response.OK(c, items)
}

func (h *Handler) revokeOtherSessions(c *gin.Context) {
	if err := sessionpkg.RevokeAllExcept(h.svc.db, middleware.CurrentUserID(c), middleware.CurrentSessionID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

func (h *Handler) updateSettings(c *gin.Context) {
	var dto updateSettingsDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.UpdateSettings(middleware.CurrentUserID(c), &dto); err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

func setAuthTokenCookie(c *gin.Context, token string) {
	c.SetCookie("sf-token", token, int(sessionpkg.DefaultTTL.Seconds()), "/", "", false, true)
}

func clearAuthTokenCookie(c *gin.Context) {
	c.SetCookie("sf-token", "", -1, "/", "", false, true)
}
