package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	redisc "github.com/studyforge/core/internal/pkg/redis"
)

// RunStatus represents the lifecycle state of a study run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SectionStatus is the per-section state inside a run.
type SectionStatus string

const (
	SectionPending    SectionStatus = "pending"
	SectionProcessing SectionStatus = "processing"
	SectionCompleted  SectionStatus = "completed"
)

// Section is one unit of the run's study plan.
type Section struct {
	Index       int           `json:"index"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	HasAudio    bool          `json:"has_audio"`
	Status      SectionStatus `json:"status"`
	Content     string        `json:"content,omitempty"`
	UsedModel   string        `json:"used_model,omitempty"`
	EntryID     string        `json:"entry_id,omitempty"`
}

// Run is the Redis-backed state of one study run.
type Run struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Depth     string    `json:"depth"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	SyncError bool      `json:"sync_error"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	keyPrefix     = "sf:run:"
	userIndexKey  = "sf:runs:"       // sorted set per user: score=created_at, member=run_id
	lockKeyPrefix = "sf:run_lock:"   // one active run per user
	eventPrefix   = "sf:run_events:" // pub/sub channel per run
	runTTL        = 7 * 24 * time.Hour
	lockTTL       = 2 * time.Hour
)

// Service manages run records and the per-user active-run lock in Redis.
type Service struct {
	rc *redisc.Client
}

func NewService(rc *redisc.Client) *Service {
	return &Service{rc: rc}
}

func (s *Service) runKey(id string) string { return keyPrefix + id }

func (s *Service) indexKey(user string) string { return userIndexKey + user }

func (s *Service) lockKey(user string) string { return lockKeyPrefix + user }

func (s *Service) EventChannel(id string) string { return eventPrefix + id }

// Create stores a new pending run and indexes it for the user.
func (s *Service) Create(ctx context.Context, userID, depth string) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:        uuid.New().String(),
		UserID:    userID,
		Depth:     depth,
		Status:    RunPending,
		Sections:  []Section{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}

	pipe := s.rc.Raw().TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, runTTL)
	pipe.ZAdd(ctx, s.indexKey(userID), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: run.ID,
	})
	pipe.Expire(ctx, s.indexKey(userID), runTTL)
	_, err = pipe.Exec(ctx)
	return run, err
}

// GetByID retrieves a run. Returns (nil, nil) when the run does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*Run, error) {
	data, err := s.rc.Raw().Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run Run
	return &run, json.Unmarshal(data, &run)
}

// Save persists the run and publishes it on the run's event channel so SSE
// watchers see every state transition.
func (s *Service) Save(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now()
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := s.rc.Set(ctx, s.runKey(run.ID), data, runTTL); err != nil {
		return err
	}
	_ = s.rc.Publish(ctx, s.EventChannel(run.ID), data)
	return nil
}

// ListByUser returns the user's runs newest-first.
func (s *Service) ListByUser(ctx context.Context, userID string, page, size int) ([]*Run, int64, error) {
	key := s.indexKey(userID)
	total, err := s.rc.Raw().ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, err
	}

	start := int64((page - 1) * size)
	stop := start + int64(size) - 1
	ids, err := s.rc.Raw().ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, 0, err
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetByID(ctx, id)
		if err != nil || run == nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, total, nil
}

// AcquireLock claims the user's active-run slot. Returns false when another
// run already holds it.
func (s *Service) AcquireLock(ctx context.Context, userID, runID string) (bool, error) {
	return s.rc.SetNX(ctx, s.lockKey(userID), runID, lockTTL)
}

// ReleaseLock frees the user's active-run slot if it is held by runID.
func (s *Service) ReleaseLock(ctx context.Context, userID, runID string) error {
	held, err := s.rc.Get(ctx, s.lockKey(userID))
	if err != nil {
		return err
	}
	if held != runID {
		return nil
	}
	return s.rc.Del(ctx, s.lockKey(userID))
}

// ActiveRunID returns the run currently holding the user's lock, if any.
func (s *Service) ActiveRunID(ctx context.Context, userID string) (string, error) {
	return s.rc.Get(ctx, s.lockKey(userID))
}

// Subscription is a live feed of run snapshots. *redis.PubSub satisfies it.
type Subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Subscribe opens a pub/sub subscription on the run's event channel.
func (s *Service) Subscribe(ctx context.Context, runID string) Subscription {
	return s.rc.Subscribe(ctx, s.EventChannel(runID))
}

// CompletedCount is a small helper for progress reporting.
func (r *Run) CompletedCount() int {
	n := 0
	for _, sec := range r.Sections {
		if sec.Status == SectionCompleted {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer for log lines.
func (r *Run) String() string {
	return fmt.Sprintf("run %s (%s, %d/%d sections)", r.ID, r.Status, r.CompletedCount(), len(r.Sections))
}
