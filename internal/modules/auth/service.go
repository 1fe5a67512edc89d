package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/studyforge/core/internal/models"
	sessionpkg "github.com/studyforge/core/internal/pkg/session"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Signup(dto *SignupDTO) (*models.UserModel, error) {
	email := strings.ToLower(strings.TrimSpace(dto.Email))

	var count int64
	if err := s.db.Model(&models.UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errEmailAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(dto.Name)
	if name == "" {
		name = email
		if i := strings.Index(email, "@"); i > 0 {
			name = email[:i]
		}
	}

	u := models.UserModel{
		Email:     email,
		Name:      name,
		Password:  string(hash),
		CloudSync: true,
	}
	return &u, s.db.Create(&u).Error
}

func (s *Service) Login(email, password, ip, ua string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u models.UserModel
	if err := s.db.Select("id, password").
		Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			time.Sleep(3 * time.Second)
			return "", errUserNotFound
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		time.Sleep(3 * time.Second)
		return "", errWrongPassword
	}

	now := time.Now()
	_ = s.db.Model(&models.UserModel{}).Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"last_login_time": &now,
			"last_login_ip":   strings.TrimSpace(ip),
		}).Error

	token, _, err := sessionpkg.Issue(s.db, u.ID, ip, ua, sessionpkg.DefaultTTL)
	return token, err
}

func (s *Service) GetProfile(userID string) (*models.UserModel, error) {
	var u models.UserModel
	if err := s.db.Where("id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CloudSyncEnabled reports whether the user opted into notebook persistence.
func (s *Service) CloudSyncEnabled(userID string) (bool, error) {
	var u models.UserModel
	if err := s.db.Select("cloud_sync").Where("id = ?", userID).First(&u).Error; err != nil {
		return false, err
	}
	return u.CloudSync, nil
}

func (s *Service) UpdateSettings(userID string, dto *updateSettingsDTO) error {
	updates := map[string]interface{}{}
	if dto.CloudSync != nil {
		updates["cloud_sync"] = *dto.CloudSync
	}
	if dto.Name != nil {
		if name := strings.TrimSpace(*dto.Name); name != "" {
			updates["name"] = name
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&models.UserModel{}).Where("id = ?", userID).Updates(updates).Error
}
