package dto

import (
	"time"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
)

// LoginRequest accepts either a Google authorization code or local credentials.
type LoginRequest struct {
	Code     string `json:"code"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	FullName   string      `json:"full_name"`
	ProfilePic string      `json:"profile_pic"`
	Role       domain.Role `json:"role"`
	Skills     []string    `json:"skills"`
	CreatedAt  time.Time   `json:"created_at"`
}

// UpdateUserRequest payload for POST /admin/update-users.
type UpdateUserRequest struct {
	Email  string   `json:"email"`
	Role   *string  `json:"role"`
	Skills []string `json:"skills"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(user *domain.User) UserResponse {
	skills := user.Skills
	if skills == nil {
		skills = []string{}
	}
	return UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		ProfilePic: user.ProfilePic,
		Role:       user.Role,
		Skills:     skills,
		CreatedAt:  user.CreatedAt,
	}
}
