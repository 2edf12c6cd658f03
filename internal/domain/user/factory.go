package user

import (
	"time"

	"github.com/google/uuid"
)

func NewFromRegisterRequest(req RegisterRequest, passwordHash string) User {
	now := time.Now().UTC()

	return User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: passwordHash,
		RoleID:       req.RoleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
