package auth

import (
	"errors"
	"time"
)

var (
	errUserNotFound       = errors.New("user not found")
	errWrongPassword      = errors.New("wrong password")
	errEmailAlreadyExists = errors.New("email already registered")
)

type SignupDTO struct {
	Email    string `json:"email"    binding:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginDTO struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type profileResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	CloudSync     bool       `json:"cloud_sync"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
	Created       time.Time  `json:"created"`
}

type updateSettingsDTO struct {
	CloudSync *bool   `json:"cloud_sync"`
	Name      *string `json:"name"`
}
