package study

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/studyforge/core/internal/middleware"
	"github.com/studyforge/core/internal/models"
	"github.com/studyforge/core/internal/modules/upload"
	"github.com/studyforge/core/internal/pkg/runstore"
	"go.uber.org/zap"
)

// gapRunStore simulates a run that finishes between the ownership read and
// the event subscription: the first read sees it running, every later read
// sees it completed.
type gapRunStore struct {
	*memoryRunStore
	run        *runstore.Run
	reads      int
	subscribed bool
}

func (g *gapRunStore) GetByID(context.Context, string) (*runstore.Run, error) {
	g.reads++
	snapshot := *g.run
	if g.reads == 1 {
		snapshot.Status = runstore.RunRunning
	} else {
		snapshot.Status = runstore.RunCompleted
	}
	return &snapshot, nil
}

func (g *gapRunStore) Subscribe(context.Context, string) runstore.Subscription {
	g.subscribed = true
	ch := make(chan *redis.Message)
	close(ch)
	return &staticSubscription{ch: ch}
}

type staticSubscription struct {
	ch chan *redis.Message
}

func (s *staticSubscription) Channel(...redis.ChannelOption) <-chan *redis.Message {
	return s.ch
}

func (s *staticSubscription) Close() error { return nil }

func newStreamTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)
	inject := func(c *gin.Context) { c.Set(middleware.ContextKeyUserID, "user-1") }
	r.GET("/study/runs/:id/events", inject, h.streamRun)
	r.POST("/study/runs", inject, h.createRun)
	return r
}

func TestStreamRunDeliversDoneForTransitionBeforeSubscribe(t *testing.T) {
	store := &gapRunStore{
		memoryRunStore: newMemoryRunStore(),
		run:            &runstore.Run{ID: "run-1", UserID: "user-1", Depth: "standard"},
	}
	svc := &Service{runs: store, log: zap.NewNop()}
	r := newStreamTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/study/runs/run-1/events", nil)
	r.ServeHTTP(w, req)

	if !store.subscribed {
		t.Fatal("handler never subscribed to run events")
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("snapshot does not reflect the post-subscribe state:\n%s", body)
	}
	if !strings.Contains(body, `{"type":"done"`) {
		t.Errorf("stream never closed with a done event:\n%s", body)
	}
}

// missingUploads answers every read with a not-found error.
type missingUploads struct{}

func (missingUploads) ReadContent(string, string) (*models.UploadModel, []byte, error) {
	return nil, nil, upload.ErrNotFound
}

func TestCreateRunDistinguishesMissingUploads(t *testing.T) {
	svc := &Service{
		runs:    newMemoryRunStore(),
		uploads: missingUploads{},
		log:     zap.NewNop(),
	}
	r := newStreamTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/study/runs", strings.NewReader(`{"depth":"standard","upload_ids":["gone"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := w.Body.String()
	if strings.Contains(body, msgNoMaterials) {
		t.Errorf("stale upload id must not be reported as missing materials:\n%s", body)
	}
	if !strings.Contains(body, "upload ids") {
		t.Errorf("expected an invalid-upload-id message:\n%s", body)
	}
}

func TestCreateRunRejectsEmptyUploadList(t *testing.T) {
	svc := &Service{
		runs:    newMemoryRunStore(),
		uploads: missingUploads{},
		log:     zap.NewNop(),
	}
	r := newStreamTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/study/runs", strings.NewReader(`{"depth":"deep","upload_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), msgNoMaterials) {
		t.Errorf("expected %q, got:\n%s", msgNoMaterials, w.Body.String())
	}
}
