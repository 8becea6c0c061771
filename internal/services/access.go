package services

import "sicet-backend-go/internal/models"

type Resource string

type Action string

const (
	ResourceDevices   Resource = "devices"
	ResourceKPIs      Resource = "kpis"
	ResourceTodolists Resource = "todolists"
	ResourceTasks     Resource = "tasks"
	ResourceMatrix    Resource = "matrix"
	ResourceExports   Resource = "exports"
	ResourceTemplates Resource = "templates"
	ResourceDashboard Resource = "dashboard"
	ResourceUsers     Resource = "users"
	ResourceAlerts    Resource = "alerts"

	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

var (
	everyone       = roleSet(models.RoleAdmin, models.RoleReferrer, models.RoleOperator)
	adminOnly      = roleSet(models.RoleAdmin)
	adminReferrer  = roleSet(models.RoleAdmin, models.RoleReferrer)
	adminOperator  = roleSet(models.RoleAdmin, models.RoleOperator)
	capabilityRule = map[Resource]map[Action]map[string]bool{
		ResourceDevices:   {ActionRead: everyone, ActionWrite: adminOnly, ActionDelete: adminOnly},
		ResourceKPIs:      {ActionRead: everyone, ActionWrite: adminOnly, ActionDelete: adminOnly},
		ResourceTodolists: {ActionRead: everyone, ActionWrite: adminReferrer, ActionDelete: adminOnly},
		ResourceTasks:     {ActionRead: everyone, ActionWrite: adminOperator},
		ResourceMatrix:    {ActionRead: adminReferrer, ActionDelete: adminOnly},
		ResourceExports:   {ActionRead: adminReferrer},
		ResourceTemplates: {ActionRead: adminReferrer, ActionWrite: adminReferrer, ActionDelete: adminReferrer},
		ResourceDashboard: {ActionRead: everyone},
		ResourceUsers:     {ActionRead: adminOnly, ActionWrite: adminOnly, ActionDelete: adminOnly},
		ResourceAlerts:    {ActionRead: adminOnly, ActionWrite: adminOnly, ActionDelete: adminOnly},
	}
)

// CanAccess reports whether role may perform action on resource. Unknown
// combinations are denied.
func CanAccess(role string, resource Resource, action Action) bool {
	actions, ok := capabilityRule[resource]
	if !ok {
		return false
	}
	return actions[action][role]
}

func roleSet(roles ...string) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, role := range roles {
		set[role] = true
	}
	return set
}
