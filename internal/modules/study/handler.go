package study

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/middleware"
	"github.com/studyforge/core/internal/modules/upload"
	"github.com/studyforge/core/internal/pkg/pagination"
	"github.com/studyforge/core/internal/pkg/response"
	"github.com/studyforge/core/internal/pkg/runstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/study", authMW)

	g.POST("/runs", h.createRun)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:id", h.getRun)
	g.GET("/runs/:id/events", h.streamRun)
	g.GET("/models", h.listModels)
	g.POST("/test", h.testConnection)
}

func (h *Handler) createRun(c *gin.Context) {
	var dto createRunDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	run, err := h.svc.StartRun(c.Request.Context(), middleware.CurrentUserID(c), dto)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMaterials):
			response.BadRequest(c, msgNoMaterials)
		case errors.Is(err, ErrRunActive):
			response.Conflict(c, "a study run is already in progress")
		case errors.Is(err, upload.ErrNotFound):
			response.BadRequest(c, "one or more upload ids are invalid")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Accepted(c, gin.H{"run_id": run.ID, "status": run.Status})
}

func (h *Handler) getRun(c *gin.Context) {
	run, err := h.svc.GetRun(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, errRunNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	q := pagination.FromContext(c)
	runs, total, err := h.svc.ListRuns(c.Request.Context(), middleware.CurrentUserID(c), q.Page, q.Size)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	response.Paged(c, runs, response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	})
}

func isTerminalRun(status runstore.RunStatus) bool {
	return status == runstore.RunCompleted || status == runstore.RunFailed
}

// streamRun pushes run state over SSE: one snapshot on connect, then every
// state transition published by the run goroutine until the run finishes.
func (h *Handler) streamRun(c *gin.Context) {
	run, err := h.svc.GetRun(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, errRunNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(eventType, data string) {
		fmt.Fprintf(c.Writer, "data: %s\n\n", fmt.Sprintf(`{"type":%q,"data":%s}`, eventType, data))
		c.Writer.Flush()
	}

	if isTerminalRun(run.Status) {
		snapshot, _ := json.Marshal(run)
		sendEvent("run", string(snapshot))
		sendEvent("done", "null")
		return
	}

	sub := h.svc.SubscribeRun(c.Request.Context(), run.ID)
	defer sub.Close()

	// Re-read after subscribing: a transition saved between the first read
	// and the subscription would otherwise never reach this stream.
	if fresh, err := h.svc.GetRun(c.Request.Context(), middleware.CurrentUserID(c), run.ID); err == nil {
		run = fresh
	}
	snapshot, _ := json.Marshal(run)
	sendEvent("run", string(snapshot))
	if isTerminalRun(run.Status) {
		sendEvent("done", "null")
		return
	}

	ch := sub.Channel()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sendEvent("run", msg.Payload)

			var update runstore.Run
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			if isTerminalRun(update.Status) {
				sendEvent("done", "null")
				return
			}
		}
	}
}

// listModels reports the configured providers and their models. With
// ?remote=true each provider's live catalog is queried.
func (h *Handler) listModels(c *gin.Context) {
	remote := strings.EqualFold(c.Query("remote"), "true")

	results := make([]providerModelsResponse, 0, len(h.svc.cfg.AI.Providers))
	for _, provider := range h.svc.cfg.AI.Providers {
		if !provider.Enabled {
			continue
		}
		entry := providerModelsResponse{
			ProviderID:   provider.ID,
			ProviderName: provider.Name,
			Type:         provider.Type,
			DefaultModel: provider.DefaultModel,
		}
		if remote {
			models, err := fetchModelsFromProvider(provider)
			if err != nil {
				entry.Models = modelsFromProvider(provider)
				entry.Error = err.Error()
			} else {
				entry.Models = models
			}
		} else {
			entry.Models = modelsFromProvider(provider)
		}
		results = append(results, entry)
	}
	response.OK(c, results)
}

// testConnection fires a minimal text request at the named provider.
func (h *Handler) testConnection(c *gin.Context) {
	var dto testConnectionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	assignment := config.AIModelAssignment{ProviderID: dto.ProviderID, Model: dto.Model}
	caller := newProviderCaller(h.svc.cfg.AI)
	out, err := caller.Call(c.Request.Context(), assignment, callRequest{
		Prompt:    "Reply with the single word OK.",
		MaxTokens: 16,
	})
	if err != nil {
		response.OK(c, gin.H{"ok": false, "error": err.Error()})
		return
	}
	response.OK(c, gin.H{"ok": true, "reply": strings.TrimSpace(out)})
}
