package employee

import (
	"time"

	"gorm.io/datatypes"
)

type EmploymentType string

const (
	FullTime  EmploymentType = "full_time"
	PartTime  EmploymentType = "part_time"
	Contract  EmploymentType = "contract"
	Temporary EmploymentType = "temporary"
	Intern    EmploymentType = "intern"
	Other     EmploymentType = "other"
)

type State string

const (
	StateDraft    State = "draft"
	StateInvited  State = "invited"
	StateReady    State = "ready"
	StateArchived State = "archived"
)

func (s State) Valid() bool {
	switch s {
	case StateDraft, StateInvited, StateReady, StateArchived:
		return true
	default:
		return false
	}
}

type Employee struct {
	ID             string         `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
	OrganizationID string         `gorm:"column:organization_id;index"`
	Name           string         `gorm:"column:name"`
	Email          string         `gorm:"column:email;index"`
	WalletAddress  string         `gorm:"column:wallet_address;index"`
	EmploymentType EmploymentType `gorm:"column:employment_type"`
	State          State          `gorm:"column:state"`
	ArchivedAt     *time.Time     `gorm:"column:archived_at"`
}

func (Employee) TableName() string { return "employees" }

// StatusHistory is append-only: rows record every state transition and are
// never updated or deleted.
type StatusHistory struct {
	ID         string         `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time      `gorm:"column:created_at;index"`
	EmployeeID string         `gorm:"column:employee_id;index"`
	FromState  State          `gorm:"column:from_state"`
	ToState    State          `gorm:"column:to_state"`
	Actor      string         `gorm:"column:actor"`
	Note       string         `gorm:"column:note"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
}

func (StatusHistory) TableName() string { return "employee_status_history" }
