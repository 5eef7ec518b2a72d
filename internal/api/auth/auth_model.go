package auth

import "github.com/FACorreiaa/techephi-auth/internal/types"

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email       string `json:"email" validate:"required" example:"alice@example.com"`
	Password    string `json:"password" validate:"required" example:"Str0ng!Pw"`
	DisplayName string `json:"displayName" validate:"required" example:"Alice"`
	Role        string `json:"role,omitempty" example:"CLIENT"`
	Phone       string `json:"phone,omitempty" example:"+351910000000"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required" example:"alice@example.com"`
	Password string `json:"password" validate:"required" example:"Str0ng!Pw"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// SetUserStatusRequest toggles an account. IsActive is a pointer so a missing field is rejected
// instead of read as false.
type SetUserStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Success bool        `json:"success"`
	User    *types.User `json:"user"`
	Token   string      `json:"token"`
}

// TokenResponse is returned by refresh.
type TokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

type UserResponse struct {
	Success bool        `json:"success"`
	User    *types.User `json:"user"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse documents the failure body written by api.ErrorResponse.
type ErrorResponse struct {
	Success bool   `json:"success" example:"false"`
	Error   string `json:"error" example:"Invalid email or password"`
}
