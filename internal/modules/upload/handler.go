package upload

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/studyforge/core/internal/middleware"
	"github.com/studyforge/core/internal/pkg/pagination"
	"github.com/studyforge/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/uploads", authMW)

	g.POST("", h.upload)
	g.GET("", h.list)
	g.GET("/:id/raw", h.serve)
	g.DELETE("/:id", h.delete)
}

func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}

	m, err := h.svc.Store(middleware.CurrentUserID(c), fh)
	if err != nil {
		switch {
		case errors.Is(err, errUnsupportedType):
			response.UnprocessableEntity(c, "only audio (mp3/wav/m4a/ogg/flac), pdf and text (txt/md) files are accepted")
		case errors.Is(err, errTooLarge):
			response.BadRequest(c, "file exceeds the size limit")
		default:
			response.InternalError(c, err)
		}
		return
	}

	response.Created(c, uploadResponse{
		ID:        m.ID,
		FileName:  m.FileName,
		Kind:      m.Kind,
		MediaType: m.MediaType,
		Size:      m.Size,
		RemoteURL: m.RemoteURL,
	})
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	uploads, pag, err := h.svc.ListByUser(middleware.CurrentUserID(c), q)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]uploadResponse, 0, len(uploads))
	for _, m := range uploads {
		items = append(items, uploadResponse{
			ID:        m.ID,
			FileName:  m.FileName,
			Kind:      m.Kind,
			MediaType: m.MediaType,
			Size:      m.Size,
			RemoteURL: m.RemoteURL,
		})
	}
	response.Paged(c, items, pag)
}

func (h *Handler) serve(c *gin.Context) {
	m, err := h.svc.GetOwned(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}

	c.Header("Content-Type", m.MediaType)
	c.Header("Cache-Control", "private, max-age=3600")
	c.File(m.Path)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(middleware.CurrentUserID(c), c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
