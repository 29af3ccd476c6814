package activity

import (
	"time"

	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorEmployer ActorType = "employer"
	ActorEmployee ActorType = "employee"
	ActorSystem   ActorType = "system"
)

type EventType string

const (
	EventStreamCreated           EventType = "stream_created"
	EventStreamTopUp             EventType = "stream_top_up"
	EventStreamWithdrawn         EventType = "stream_withdrawn"
	EventStreamRefreshActivity   EventType = "stream_refresh_activity"
	EventStreamEmergencyWithdraw EventType = "stream_emergency_withdraw"
	EventStreamSuspended         EventType = "stream_suspended"
	EventStreamClosed            EventType = "stream_closed"
	EventStreamReactivated       EventType = "stream_reactivated"
)

// OrganizationActivity is the employer-facing feed. Employee actions that
// should surface on the employer dashboard carry visibleToEmployer in
// metadata.
type OrganizationActivity struct {
	ID             string         `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
	OrganizationID string         `gorm:"column:organization_id;index"`
	StreamID       string         `gorm:"column:stream_id;index"`
	Title          string         `gorm:"column:title"`
	Description    string         `gorm:"column:description"`
	ActivityType   EventType      `gorm:"column:activity_type"`
	ActorType      ActorType      `gorm:"column:actor_type"`
	ActorAddress   string         `gorm:"column:actor_address"`
	OccurredAt     time.Time      `gorm:"column:occurred_at;index"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

func (OrganizationActivity) TableName() string { return "organization_activity" }
