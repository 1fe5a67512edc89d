package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/studyforge/core/internal/middleware"
	"github.com/studyforge/core/internal/modules/auth"
	"github.com/studyforge/core/internal/modules/notebook"
	"github.com/studyforge/core/internal/modules/study"
	"github.com/studyforge/core/internal/modules/upload"
	"github.com/studyforge/core/internal/pkg/response"
	"github.com/studyforge/core/internal/pkg/runstore"
)

func (a *App) registerRoutes() {
	r := a.router
	db := a.db
	authMW := middleware.Auth(db)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	appInfo := gin.H{
		"name":    "studyforge-core",
		"version": "1.0.0",
	}

	// Rate limiting and idempotence run on every route (requires Redis).
	r.Use(middleware.RateLimit(a.rc.Raw()))
	r.Use(middleware.Idempotence(a.rc.Raw()))

	api := r.Group("/api/v1")

	api.GET("", func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) })
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })

	runs := runstore.NewService(a.rc)

	auth.NewHandler(auth.NewService(db)).RegisterRoutes(api, authMW)

	uploadSvc := upload.NewService(db, a.cfg, a.logger)
	upload.NewHandler(uploadSvc).RegisterRoutes(api, authMW)

	studySvc := study.NewService(db, a.cfg, runs, uploadSvc, a.logger)
	study.NewHandler(studySvc).RegisterRoutes(api, authMW)

	notebook.NewHandler(notebook.NewService(db)).RegisterRoutes(api, authMW)
}
