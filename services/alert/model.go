package alert

import (
	"time"

	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// Terminal statuses are never reopened; a fresh trigger creates a new row.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

type Type string

const (
	TypeLowRunway       Type = "low_runway"
	TypeInactivity      Type = "inactivity"
	TypePendingAction   Type = "pending_action"
	TypeSuspendedStream Type = "suspended_stream"
	TypeTokenAccount    Type = "token_account"
	TypeCustom          Type = "custom"
)

func (t Type) Valid() bool {
	switch t {
	case TypeLowRunway, TypeInactivity, TypePendingAction, TypeSuspendedStream, TypeTokenAccount, TypeCustom:
		return true
	default:
		return false
	}
}

type Alert struct {
	ID             string         `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
	OrganizationID string         `gorm:"column:organization_id;index"`
	StreamID       *string        `gorm:"column:stream_id;index"`
	EmployeeID     *string        `gorm:"column:employee_id"`
	Type           Type           `gorm:"column:type;index"`
	Severity       Severity       `gorm:"column:severity"`
	Status         Status         `gorm:"column:status;index"`
	Title          string         `gorm:"column:title"`
	Description    string         `gorm:"column:description"`
	TriggeredAt    time.Time      `gorm:"column:triggered_at"`
	AcknowledgedAt *time.Time     `gorm:"column:acknowledged_at"`
	ResolvedAt     *time.Time     `gorm:"column:resolved_at"`
	DismissedAt    *time.Time     `gorm:"column:dismissed_at"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

func (Alert) TableName() string { return "alerts" }
