package auth

import (
	"strings"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/core/common/validation"
)

// RegisterDTO is the request shape for self-registration and admin user
// creation. TenantID and ReportingTo are optional; the service fills the
// tenant from configuration when absent.
type RegisterDTO struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8"`
	FirstName   string  `json:"firstName" validate:"required"`
	LastName    string  `json:"lastName" validate:"required"`
	Role        string  `json:"role" validate:"required"`
	PhoneNumber string  `json:"phoneNumber"`
	TenantID    string  `json:"tenantId"`
	ReportingTo *string `json:"reportingTo"`
}

func (d RegisterDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().MaxLength(254).Email()
	v.Field("firstName", d.FirstName).Required().MaxLength(100)
	v.Field("lastName", d.LastName).Required().MaxLength(100)
	v.Field("role", d.Role).Required().Custom(func(value interface{}) *internal.AppError {
		raw, ok := value.(string)
		if !ok || raw == "" {
			return nil
		}
		if _, ok := NormalizeRole(raw); !ok {
			return internal.NewValidationFieldError("role", "role is not recognized", internal.ErrCodeInvalidRole)
		}
		return nil
	})
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	if appErr := validation.ValidatePassword(d.Password); appErr != nil {
		return appErr
	}
	return nil
}

// NormalizedEmail lowercases and trims the email so lookups are
// case-insensitive regardless of how the client typed it.
func (d RegisterDTO) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(d.Email))
}

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenDTO for refresh token requests when no cookie is present
type RefreshTokenDTO struct {
	RefreshToken string `json:"refreshToken"`
}

// AutoRefreshDTO carries both tokens so the server can decide whether
// rotation is worthwhile yet.
type AutoRefreshDTO struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LogoutDTO revokes the presented refresh token, or every token the user
// holds when UserID is set.
type LogoutDTO struct {
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// ValidateTokenDTO for decode-only token inspection
type ValidateTokenDTO struct {
	AccessToken string `json:"accessToken"`
}

// UpdateProfileDTO applies partial updates; nil fields stay untouched.
type UpdateProfileDTO struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	PhoneNumber *string `json:"phoneNumber"`
	Password    *string `json:"password"`
}

// ValidationError represents a simple validation error from DTO validation.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

// Validate checks required fields and returns a ValidationError on failure.
func (d LoginDTO) Validate() error {
	if d.Email == "" {
		return ValidationError{Msg: "email is required"}
	}
	if d.Password == "" {
		return ValidationError{Msg: "password is required"}
	}
	return nil
}

// Validate for refresh token DTO
func (d RefreshTokenDTO) Validate() error {
	if d.RefreshToken == "" {
		return ValidationError{Msg: "refreshToken is required"}
	}
	return nil
}

func (d AutoRefreshDTO) Validate() error {
	if d.AccessToken == "" {
		return ValidationError{Msg: "accessToken is required"}
	}
	if d.RefreshToken == "" {
		return ValidationError{Msg: "refreshToken is required"}
	}
	return nil
}

func (d ValidateTokenDTO) Validate() error {
	if d.AccessToken == "" {
		return ValidationError{Msg: "accessToken is required"}
	}
	return nil
}

func (d UpdateProfileDTO) Validate() error {
	if d.FirstName == nil && d.LastName == nil && d.PhoneNumber == nil && d.Password == nil {
		return ValidationError{Msg: "at least one field must be provided"}
	}
	if d.FirstName != nil && *d.FirstName == "" {
		return ValidationError{Msg: "firstName cannot be empty"}
	}
	if d.LastName != nil && *d.LastName == "" {
		return ValidationError{Msg: "lastName cannot be empty"}
	}
	if d.Password != nil {
		if appErr := validation.ValidatePassword(*d.Password); appErr != nil {
			return appErr
		}
	}
	return nil
}
