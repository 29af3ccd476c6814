package stream

import (
	"time"

	"cascade-payroll/services/activity"

	"gorm.io/datatypes"
)

type State string

const (
	StateDraft     State = "draft"
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateClosed    State = "closed"
)

func (s State) Valid() bool {
	switch s {
	case StateDraft, StateActive, StateSuspended, StateClosed:
		return true
	default:
		return false
	}
}

// Stream is the relational mirror of an on-chain payment stream. Amounts are
// stored in base units of the mint (6 decimals).
type Stream struct {
	ID              string    `gorm:"column:id;primaryKey"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
	OrganizationID  string    `gorm:"column:organization_id;index"`
	EmployeeID      string    `gorm:"column:employee_id;index"`
	StreamAddress   string    `gorm:"column:stream_address;uniqueIndex"`
	VaultAddress    string    `gorm:"column:vault_address"`
	MintAddress     string    `gorm:"column:mint_address"`
	HourlyRate      int64     `gorm:"column:hourly_rate"`
	TotalDeposited  int64     `gorm:"column:total_deposited"`
	WithdrawnAmount int64     `gorm:"column:withdrawn_amount"`
	State           State     `gorm:"column:state"`
	LastActivityAt  time.Time `gorm:"column:last_activity_at"`
}

func (Stream) TableName() string { return "streams" }

// VaultBalance is what remains spendable from deposits.
func (s *Stream) VaultBalance() int64 {
	remaining := s.TotalDeposited - s.WithdrawnAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StreamEvent mirrors one on-chain action. Signature is unique so replayed
// confirmations cannot double-insert.
type StreamEvent struct {
	ID             string             `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time          `gorm:"column:created_at"`
	StreamID       string             `gorm:"column:stream_id;index"`
	OrganizationID string             `gorm:"column:organization_id;index"`
	EventType      activity.EventType `gorm:"column:event_type"`
	ActorType      activity.ActorType `gorm:"column:actor_type"`
	ActorAddress   string             `gorm:"column:actor_address"`
	Signature      *string            `gorm:"column:signature;uniqueIndex"`
	TokenAccount   string             `gorm:"column:token_account"`
	Amount         int64              `gorm:"column:amount"`
	OccurredAt     time.Time          `gorm:"column:occurred_at;index"`
	Metadata       datatypes.JSON     `gorm:"column:metadata"`
}

func (StreamEvent) TableName() string { return "stream_events" }

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentMirrored  IntentStatus = "mirrored"
	IntentFailed    IntentStatus = "failed"
)

// WithdrawalIntent logs each withdrawal attempt before it is sent, so a
// confirmed-but-unmirrored action remains discoverable.
type WithdrawalIntent struct {
	ID        string       `gorm:"column:id;primaryKey"`
	CreatedAt time.Time    `gorm:"column:created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
	StreamID  string       `gorm:"column:stream_id;index"`
	Amount    int64        `gorm:"column:amount"`
	Signature string       `gorm:"column:signature;index"`
	Status    IntentStatus `gorm:"column:status;index"`
}

func (WithdrawalIntent) TableName() string { return "withdrawal_intents" }
