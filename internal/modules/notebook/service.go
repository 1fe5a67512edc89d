package notebook

import (
	"errors"

	"github.com/studyforge/core/internal/models"
	"github.com/studyforge/core/internal/pkg/pagination"
	"github.com/studyforge/core/internal/pkg/response"
	"gorm.io/gorm"
)

var errEntryNotFound = errors.New("notebook entry not found")

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// List returns the user's entries newest-first. Reading never mutates an
// entry; entries are immutable after creation.
func (s *Service) List(userID string, q pagination.Query) ([]models.NotebookEntryModel, response.Pagination, error) {
	tx := s.db.Model(&models.NotebookEntryModel{}).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	var entries []models.NotebookEntryModel
	pag, err := pagination.Paginate(tx, q, &entries)
	return entries, pag, err
}

func (s *Service) Get(userID, id string) (*models.NotebookEntryModel, error) {
	var entry models.NotebookEntryModel
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) Delete(userID, id string) error {
	res := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.NotebookEntryModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errEntryNotFound
	}
	return nil
}
