package user

import (
	"github.com/salesdesk/crm-management/internal/auth"
)

// ChangeRoleDTO carries the new role for PATCH /users/{id}/role. Alias
// spellings are accepted and normalized by the service.
type ChangeRoleDTO struct {
	Role string `json:"role"`
}

func (d ChangeRoleDTO) Validate() error {
	if d.Role == "" {
		return auth.ValidationError{Msg: "role is required"}
	}
	return nil
}
