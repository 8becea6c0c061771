package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

const (
	TodolistPending    = "pending"
	TodolistInProgress = "in_progress"
	TodolistCompleted  = "completed"

	TaskPending   = "pending"
	TaskCompleted = "completed"
	TaskDiscarded = "discarded"

	SlotStandard = "standard"
	SlotCustom   = "custom"

	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleReferrer = "referrer"

	ProfileRegistered    = "registered"
	ProfileActivated     = "activated"
	ProfileResetPassword = "reset-password"
	ProfileDeleted       = "deleted"

	AlertPending = "pending"
	AlertSent    = "sent"
	AlertFailed  = "failed"

	ScopeKPI      = "kpi"
	ScopeTodolist = "todolist"
)

type Device struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Location    string         `db:"location" json:"location"`
	Description string         `db:"description" json:"description"`
	Tags        pq.StringArray `db:"tags" json:"tags"`
	Deleted     bool           `db:"deleted" json:"deleted"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

type KPI struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Value       KPIFields `db:"value" json:"value"`
	Deleted     bool      `db:"deleted" json:"deleted"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type Todolist struct {
	ID                 string     `db:"id" json:"id"`
	DeviceID           string     `db:"device_id" json:"deviceId"`
	ScheduledExecution time.Time  `db:"scheduled_execution" json:"scheduledExecution"`
	Status             string     `db:"status" json:"status"`
	TimeSlotType       string     `db:"time_slot_type" json:"timeSlotType"`
	TimeSlotStart      *string    `db:"time_slot_start" json:"timeSlotStart,omitempty"`
	TimeSlotEnd        *string    `db:"time_slot_end" json:"timeSlotEnd,omitempty"`
	CompletionDate     *time.Time `db:"completion_date" json:"completionDate,omitempty"`
	CompletedBy        *string    `db:"completed_by" json:"completedBy,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

type Task struct {
	ID           string         `db:"id" json:"id"`
	TodolistID   string         `db:"todolist_id" json:"todolistId"`
	KPIID        string         `db:"kpi_id" json:"kpiId"`
	Status       string         `db:"status" json:"status"`
	Value        types.JSONText `db:"value" json:"value"`
	AlertChecked bool           `db:"alert_checked" json:"alertChecked"`
	CreatedBy    *string        `db:"created_by" json:"createdBy,omitempty"`
	CompletedBy  *string        `db:"completed_by" json:"completedBy,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
}

type Profile struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	Role         string     `db:"role"`
	Status       string     `db:"status"`
	AuthID       *string    `db:"auth_id"`
	PasswordHash *string    `db:"password_hash"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

type TodolistAlertLog struct {
	ID           string         `db:"id" json:"id"`
	TodolistID   string         `db:"todolist_id" json:"todolistId"`
	DeviceID     string         `db:"device_id" json:"deviceId"`
	Status       string         `db:"status" json:"status"`
	Recipients   pq.StringArray `db:"recipients" json:"recipients"`
	SentAt       *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

type KPIAlertLog struct {
	ID           string         `db:"id" json:"id"`
	TaskID       string         `db:"task_id" json:"taskId"`
	KPIID        string         `db:"kpi_id" json:"kpiId"`
	TodolistID   string         `db:"todolist_id" json:"todolistId"`
	DeviceID     string         `db:"device_id" json:"deviceId"`
	Field        string         `db:"field" json:"field"`
	TriggerValue string         `db:"trigger_value" json:"triggerValue"`
	Message      string         `db:"message" json:"message"`
	Status       string         `db:"status" json:"status"`
	Recipients   pq.StringArray `db:"recipients" json:"recipients"`
	SentAt       *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

type AlertSubscription struct {
	ID        string    `db:"id" json:"id"`
	Scope     string    `db:"scope" json:"scope"`
	TargetID  string    `db:"target_id" json:"targetId"`
	Email     string    `db:"email" json:"email"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type ReportTemplate struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	DeviceIDs   pq.StringArray `db:"device_ids" json:"deviceIds"`
	KPIIDs      pq.StringArray `db:"kpi_ids" json:"kpiIds"`
	CreatedBy   *string        `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	ActorID    *string        `db:"actor_id" json:"actorId,omitempty"`
	Action     string         `db:"action" json:"action"`
	ObjectType string         `db:"object_type" json:"objectType"`
	ObjectID   string         `db:"object_id" json:"objectId"`
	Details    types.JSONText `db:"details" json:"details"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
