package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/models"
	"github.com/studyforge/core/internal/pkg/pagination"
	"github.com/studyforge/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	cfg    *config.AppConfig
	mirror *s3Mirror
	log    *zap.Logger
}

func NewService(db *gorm.DB, cfg *config.AppConfig, log *zap.Logger) *Service {
	s := &Service{db: db, cfg: cfg, log: log}
	if cfg.S3.Enable {
		s.mirror = newS3Mirror(cfg.S3)
	}
	return s
}

func (s *Service) maxSize() int64 {
	mb := s.cfg.Upload.MaxSizeMB
	if mb <= 0 {
		mb = 200
	}
	return int64(mb) << 20
}

// Store saves an uploaded material to disk, records it, and mirrors it to S3
// when configured. Mirroring failures are logged and do not fail the upload.
func (s *Service) Store(userID string, fh *multipart.FileHeader) (*models.UploadModel, error) {
	kind, mediaType, ok := classify(fh.Filename)
	if !ok {
		return nil, errUnsupportedType
	}
	if fh.Size > s.maxSize() {
		return nil, errTooLarge
	}

	dir := filepath.Join(s.cfg.UploadDir(), userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	stored := strings.ReplaceAll(uuid.NewString(), "-", "")[:18] + ext
	path := filepath.Join(dir, stored)

	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, s.maxSize()+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxSize() {
		return nil, errTooLarge
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}

	m := &models.UploadModel{
		UserID:    userID,
		FileName:  filepath.Base(fh.Filename),
		Path:      path,
		MediaType: mediaType,
		Kind:      kind,
		Size:      int64(len(data)),
	}
	if err := s.db.Create(m).Error; err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if s.mirror != nil {
		go s.mirrorUpload(m, data)
	}
	return m, nil
}

func (s *Service) mirrorUpload(m *models.UploadModel, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	key := fmt.Sprintf("uploads/%s/%s", m.UserID, filepath.Base(m.Path))
	url, err := s.mirror.Put(ctx, key, m.MediaType, data)
	if err != nil {
		s.log.Warn("s3 mirror failed",
			zap.String("upload_id", m.ID),
			zap.Error(err))
		return
	}
	_ = s.db.Model(&models.UploadModel{}).Where("id = ?", m.ID).
		Update("remote_url", url).Error
}

func (s *Service) ListByUser(userID string, q pagination.Query) ([]models.UploadModel, response.Pagination, error) {
	tx := s.db.Model(&models.UploadModel{}).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	var uploads []models.UploadModel
	pag, err := pagination.Paginate(tx, q, &uploads)
	return uploads, pag, err
}

func (s *Service) GetOwned(userID, id string) (*models.UploadModel, error) {
	var m models.UploadModel
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Service) Delete(userID, id string) error {
	m, err := s.GetOwned(userID, id)
	if err != nil {
		return err
	}

	if err := s.db.Delete(&models.UploadModel{}, "id = ?", m.ID).Error; err != nil {
		return err
	}
	_ = os.Remove(m.Path)

	if s.mirror != nil && m.RemoteURL != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			key := fmt.Sprintf("uploads/%s/%s", m.UserID, filepath.Base(m.Path))
			if err := s.mirror.Delete(ctx, key); err != nil {
				s.log.Warn("s3 delete failed", zap.String("upload_id", m.ID), zap.Error(err))
			}
		}()
	}
	return nil
}

// ReadContent loads the raw bytes of an owned upload for the generation pipeline.
func (s *Service) ReadContent(userID, id string) (*models.UploadModel, []byte, error) {
	m, err := s.GetOwned(userID, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}
