package notebook

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

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
	g := rg.Group("/notebook", authMW)

	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/download", h.download)
	g.GET("/:id/html", h.html)
	g.DELETE("/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	entries, pag, err := h.svc.List(middleware.CurrentUserID(c), q)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"id":         entry.ID,
			"title":      entry.Title,
			"has_audio":  entry.HasAudio,
			"used_model": entry.UsedModel,
			"created":    entry.CreatedAt,
		})
	}
	response.Paged(c, items, pag)
}

func (h *Handler) get(c *gin.Context) {
	entry, err := h.svc.Get(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, errEntryNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, entry)
}

func (h *Handler) download(c *gin.Context) {
	entry, err := h.svc.Get(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, errEntryNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}

	filename := safeFileName(entry.Title) + ".md"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(entry.Content))
}

func (h *Handler) html(c *gin.Context) {
	entry, err := h.svc.Get(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, errEntryNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}

	body := RenderContentHTML(entry.Content)
	info := entry.CreatedAt.Format("2006-01-02 15:04")
	doc := BuildEntryHTMLDocument(entry.Title, info, body)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(middleware.CurrentUserID(c), c.Param("id")); err != nil {
		if errors.Is(err, errEntryNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9 _-]+`)

func safeFileName(title string) string {
	name := unsafeFileChars.ReplaceAllString(strings.TrimSpace(title), "")
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = "notes"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
