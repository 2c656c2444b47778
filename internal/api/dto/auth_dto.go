package dto

import (
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

// RegisterRequest payload for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=4"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

// LoginRequest payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=4"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	User        UserResponse `json:"user"`
}

// NewUserResponse maps a user to its public view.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{ID: user.ID, Email: user.Email, Role: user.Role}
}

// NewUserList maps users to their public views.
func NewUserList(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, NewUserResponse(&users[i]))
	}
	return out
}
