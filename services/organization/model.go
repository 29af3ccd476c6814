package organization

import (
	"time"

	"gorm.io/datatypes"
)

// AccountState tracks how far an organization has progressed through setup.
// States are ordered: transitions may only move forward.
type AccountState string

const (
	StateNewAccount         AccountState = "new_account"
	StateOnboarding         AccountState = "onboarding"
	StateWalletConnected    AccountState = "wallet_connected"
	StateFirstStreamCreated AccountState = "first_stream_created"
	StateFullyOperating     AccountState = "fully_operating"
)

var accountStateOrder = map[AccountState]int{
	StateNewAccount:         0,
	StateOnboarding:         1,
	StateWalletConnected:    2,
	StateFirstStreamCreated: 3,
	StateFullyOperating:     4,
}

func (s AccountState) Ordinal() (int, bool) {
	ord, ok := accountStateOrder[s]
	return ord, ok
}

func (s AccountState) String() string {
	if _, ok := accountStateOrder[s]; ok {
		return string(s)
	}
	return ""
}

type PayrollCadence string

const (
	CadenceWeekly      PayrollCadence = "weekly"
	CadenceBiweekly    PayrollCadence = "biweekly"
	CadenceMonthly     PayrollCadence = "monthly"
	CadenceSemiMonthly PayrollCadence = "semi_monthly"
	CadenceCustom      PayrollCadence = "custom"
)

type Cluster string

const (
	ClusterDevnet   Cluster = "devnet"
	ClusterTestnet  Cluster = "testnet"
	ClusterMainnet  Cluster = "mainnet"
	ClusterLocalnet Cluster = "localnet"
	ClusterCustom   Cluster = "custom"
)

type Role string

const (
	RoleEmployer Role = "employer"
	RoleEmployee Role = "employee"
)

type TaskName string

const (
	TaskConnectWallet      TaskName = "connect_wallet"
	TaskProfileCompleted   TaskName = "profile_completed"
	TaskTreasuryVerified   TaskName = "treasury_verified"
	TaskPoliciesAck        TaskName = "policies_acknowledged"
	TaskEmployeeAdded      TaskName = "employee_added"
	TaskFirstStreamCreated TaskName = "first_stream_created"
)

func (t TaskName) Valid() bool {
	switch t {
	case TaskConnectWallet, TaskProfileCompleted, TaskTreasuryVerified,
		TaskPoliciesAck, TaskEmployeeAdded, TaskFirstStreamCreated:
		return true
	default:
		return false
	}
}

type Organization struct {
	ID             string         `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
	Name           string         `gorm:"column:name"`
	Slug           string         `gorm:"column:slug;uniqueIndex"`
	AccountState   AccountState   `gorm:"column:account_state"`
	PayrollCadence PayrollCadence `gorm:"column:payroll_cadence"`
	Cluster        Cluster        `gorm:"column:cluster"`
	PrimaryWallet  string         `gorm:"column:primary_wallet"`
	DefaultMint    string         `gorm:"column:default_mint"`
}

func (Organization) TableName() string { return "organizations" }

// OrganizationUser binds a login identity (email and/or wallet) to an
// organization with a role.
type OrganizationUser struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
	OrganizationID string    `gorm:"column:organization_id;index"`
	Email          string    `gorm:"column:email;index"`
	WalletAddress  string    `gorm:"column:wallet_address;index"`
	Role           Role      `gorm:"column:role"`
}

func (OrganizationUser) TableName() string { return "organization_users" }

// OnboardingTask records a completed setup step. The composite key makes the
// upsert idempotent per organization and task.
type OnboardingTask struct {
	OrganizationID string         `gorm:"column:organization_id;primaryKey"`
	Task           TaskName       `gorm:"column:task;primaryKey"`
	CompletedAt    time.Time      `gorm:"column:completed_at"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

func (OnboardingTask) TableName() string { return "onboarding_tasks" }
