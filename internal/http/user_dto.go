package httpapi

import (
	"time"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

type UserDTO struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Role         string          `json:"role"`
	Status       string          `json:"status"`
	Activated    bool            `json:"activated"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastLoginAt  *time.Time      `json:"lastLoginAt,omitempty"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

var capabilityChecks = []struct {
	name     string
	resource services.Resource
	action   services.Action
}{
	{"manageDevices", services.ResourceDevices, services.ActionWrite},
	{"manageKpis", services.ResourceKPIs, services.ActionWrite},
	{"scheduleTodolists", services.ResourceTodolists, services.ActionWrite},
	{"deleteTodolists", services.ResourceTodolists, services.ActionDelete},
	{"completeTasks", services.ResourceTasks, services.ActionWrite},
	{"viewMatrix", services.ResourceMatrix, services.ActionRead},
	{"deleteMatrixGroups", services.ResourceMatrix, services.ActionDelete},
	{"export", services.ResourceExports, services.ActionRead},
	{"manageUsers", services.ResourceUsers, services.ActionWrite},
	{"viewAlerts", services.ResourceAlerts, services.ActionRead},
}

func toUserDTO(profile models.Profile) UserDTO {
	return UserDTO{
		ID:          profile.ID,
		Email:       profile.Email,
		Role:        profile.Role,
		Status:      profile.Status,
		Activated:   profile.Status == models.ProfileActivated,
		CreatedAt:   profile.CreatedAt,
		LastLoginAt: profile.LastLoginAt,
	}
}

// withCapabilities lists what the frontend may show for the profile's role.
func withCapabilities(dto UserDTO) UserDTO {
	dto.Capabilities = make(map[string]bool, len(capabilityChecks))
	for _, check := range capabilityChecks {
		dto.Capabilities[check.name] = services.CanAccess(dto.Role, check.resource, check.action)
	}
	return dto
}
