package study

import (
	"context"
	"strings"
	"time"

	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/models"
	"github.com/studyforge/core/internal/modules/upload"
	"github.com/studyforge/core/internal/pkg/runstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runStore is the slice of the run state service the pipeline needs.
type runStore interface {
	Create(ctx context.Context, userID, depth string) (*runstore.Run, error)
	GetByID(ctx context.Context, id string) (*runstore.Run, error)
	Save(ctx context.Context, run *runstore.Run) error
	ListByUser(ctx context.Context, userID string, page, size int) ([]*runstore.Run, int64, error)
	AcquireLock(ctx context.Context, userID, runID string) (bool, error)
	ReleaseLock(ctx context.Context, userID, runID string) error
	ActiveRunID(ctx context.Context, userID string) (string, error)
	Subscribe(ctx context.Context, runID string) runstore.Subscription
}

// materialSource loads the raw bytes of an owned upload.
type materialSource interface {
	ReadContent(userID, id string) (*models.UploadModel, []byte, error)
}

type Service struct {
	db      *gorm.DB
	cfg     *config.AppConfig
	runs    runStore
	uploads materialSource
	mapper  *Mapper
	synth   *Synthesizer
	log     *zap.Logger

	// pace sleeps between sections. Replaced in tests.
	pace func(time.Duration)
	// persist writes one completed section to the notebook. Replaced in tests.
	persist func(userID string, sec *runstore.Section) (string, error)
}

func NewService(db *gorm.DB, cfg *config.AppConfig, runs *runstore.Service, uploads *upload.Service, log *zap.Logger) *Service {
	caller := newProviderCaller(cfg.AI)
	s := &Service{
		db:      db,
		cfg:     cfg,
		runs:    runs,
		uploads: uploads,
		mapper:  NewMapper(caller, mapperAssignment(cfg.AI)),
		synth:   NewSynthesizer(caller, cfg.AI, log),
		log:     log,
		pace:    time.Sleep,
	}
	s.persist = s.persistSection
	return s
}

// mapperAssignment picks the model for the single structured mapping call:
// the head of the pool, or the fallback when the pool is empty.
func mapperAssignment(ai config.AIConfig) config.AIModelAssignment {
	if len(ai.PrimaryPool) > 0 {
		return ai.PrimaryPool[0]
	}
	if ai.FallbackModel != nil {
		return *ai.FallbackModel
	}
	return config.AIModelAssignment{}
}

// StartRun validates the request, claims the user's active-run slot and
// launches the pipeline in a single background goroutine.
func (s *Service) StartRun(ctx context.Context, userID string, dto createRunDTO) (*runstore.Run, error) {
	depth := "standard"
	if strings.EqualFold(strings.TrimSpace(dto.Depth), "deep") {
		depth = "deep"
	}

	if len(dto.UploadIDs) == 0 {
		return nil, ErrNoMaterials
	}
	atts := make([]Attachment, 0, len(dto.UploadIDs))
	for _, id := range dto.UploadIDs {
		m, data, err := s.uploads.ReadContent(userID, id)
		if err != nil {
			return nil, err
		}
		atts = append(atts, Attachment{
			FileName:  m.FileName,
			MediaType: m.MediaType,
			Kind:      m.Kind,
			Data:      data,
		})
	}

	cloudEnabled, err := s.cloudSyncEnabled(userID)
	if err != nil {
		return nil, err
	}

	if active, err := s.runs.ActiveRunID(ctx, userID); err != nil {
		return nil, err
	} else if active != "" {
		return nil, ErrRunActive
	}

	run, err := s.runs.Create(ctx, userID, depth)
	if err != nil {
		return nil, err
	}
	locked, err := s.runs.AcquireLock(ctx, userID, run.ID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrRunActive
	}

	go s.execute(run, atts, cloudEnabled)
	return run, nil
}

func (s *Service) cloudSyncEnabled(userID string) (bool, error) {
	var u models.UserModel
	if err := s.db.Select("cloud_sync").Where("id = ?", userID).First(&u).Error; err != nil {
		return false, err
	}
	return u.CloudSync, nil
}

// execute runs the whole pipeline sequentially: one mapping call, then one
// synthesis call per section with pacing in between. There is no cancellation;
// the goroutine finishes or dies with the error recorded on the run.
func (s *Service) execute(run *runstore.Run, atts []Attachment, cloudEnabled bool) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run panicked", zap.String("run_id", run.ID), zap.Any("panic", r))
			s.fail(ctx, run, msgInterrupted)
		}
		_ = s.runs.ReleaseLock(ctx, run.UserID, run.ID)
	}()

	run.Status = runstore.RunRunning
	s.save(ctx, run)

	count := s.cfg.AI.SectionCount(run.Depth)
	descriptors, err := s.mapper.MapSections(ctx, atts, count)
	if err != nil {
		s.log.Error("mapping failed",
			zap.String("run_id", run.ID),
			zap.Int("section_count", count),
			zap.Error(err))
		s.fail(ctx, run, msgMapperFailed)
		return
	}

	run.Sections = make([]runstore.Section, len(descriptors))
	for i, d := range descriptors {
		run.Sections[i] = runstore.Section{
			Index:       i,
			Title:       d.Title,
			Description: d.Description,
			HasAudio:    d.HasAudio,
			Status:      runstore.SectionPending,
		}
	}
	s.save(ctx, run)

	for i := range run.Sections {
		sec := &run.Sections[i]
		sec.Status = runstore.SectionProcessing
		s.save(ctx, run)

		content, usedModel, err := s.synth.Generate(ctx, i, sec.Title, sec.Description, atts)
		if err != nil {
			s.log.Error("synthesis failed",
				zap.String("run_id", run.ID),
				zap.Int("section", i),
				zap.String("title", sec.Title),
				zap.Error(err))
			sec.Status = runstore.SectionPending
			s.fail(ctx, run, msgInterrupted)
			return
		}

		sec.Status = runstore.SectionCompleted
		sec.Content = content
		sec.UsedModel = usedModel

		if cloudEnabled {
			entryID, err := s.persist(run.UserID, sec)
			if err != nil {
				s.log.Error("section persistence failed",
					zap.String("run_id", run.ID),
					zap.Int("section", i),
					zap.Error(err))
				run.SyncError = true
			} else {
				sec.EntryID = entryID
			}
		}
		s.save(ctx, run)

		if i < len(run.Sections)-1 {
			s.pace(s.cfg.AI.PacingDelay())
		}
	}

	run.Status = runstore.RunCompleted
	if run.SyncError {
		run.Message = msgSyncFailed
	}
	s.save(ctx, run)
	s.log.Info("run finished", zap.String("run", run.String()), zap.Bool("sync_error", run.SyncError))
}

func (s *Service) persistSection(userID string, sec *runstore.Section) (string, error) {
	entry := models.NotebookEntryModel{
		UserID:    userID,
		Title:     sec.Title,
		Content:   sec.Content,
		HasAudio:  sec.HasAudio,
		UsedModel: sec.UsedModel,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *Service) fail(ctx context.Context, run *runstore.Run, message string) {
	run.Status = runstore.RunFailed
	run.Message = message
	s.save(ctx, run)
}

func (s *Service) save(ctx context.Context, run *runstore.Run) {
	if err := s.runs.Save(ctx, run); err != nil {
		s.log.Warn("saving run state failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// GetRun returns the run if it exists and belongs to userID.
func (s *Service) GetRun(ctx context.Context, userID, id string) (*runstore.Run, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil || run.UserID != userID {
		return nil, errRunNotFound
	}
	return run, nil
}

// ListRuns returns the user's runs newest-first.
func (s *Service) ListRuns(ctx context.Context, userID string, page, size int) ([]*runstore.Run, int64, error) {
	return s.runs.ListByUser(ctx, userID, page, size)
}

// SubscribeRun opens the run's live event channel.
func (s *Service) SubscribeRun(ctx context.Context, runID string) runstore.Subscription {
	return s.runs.Subscribe(ctx, runID)
}
