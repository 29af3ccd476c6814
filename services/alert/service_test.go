package alert

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cascade-payroll/pkg/config"
	"cascade-payroll/services/employee"
	"cascade-payroll/services/stream"
	"cascade-payroll/services/testutil"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Alert{}, &stream.Stream{}, &employee.Employee{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func trigger(orgID, streamID string, alertType Type) *TriggerRequest {
	return &TriggerRequest{
		OrganizationID: orgID,
		Type:           alertType,
		Severity:       SeverityHigh,
		Title:          "Low runway warning",
		StreamID:       streamID,
	}
}

func TestTriggerDeduplicatesOpenAlerts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, StatusOpen, first.Alert.Status)

	second, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Alert.ID, second.Alert.ID)

	// Different stream, type or organization is a fresh row.
	other, err := svc.Trigger(ctx, trigger("org-1", "st-2", TypeLowRunway))
	require.NoError(t, err)
	require.False(t, other.Duplicate)

	other, err = svc.Trigger(ctx, trigger("org-1", "st-1", TypeInactivity))
	require.NoError(t, err)
	require.False(t, other.Duplicate)

	other, err = svc.Trigger(ctx, trigger("org-2", "st-1", TypeLowRunway))
	require.NoError(t, err)
	require.False(t, other.Duplicate)
}

func TestTriggerDeduplicatesNullStream(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Trigger(ctx, trigger("org-1", "", TypePendingAction))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.Trigger(ctx, trigger("org-1", "", TypePendingAction))
	require.NoError(t, err)
	require.True(t, second.Duplicate)

	// A stream-scoped alert of the same type does not collide with the
	// organization-wide one.
	scoped, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypePendingAction))
	require.NoError(t, err)
	require.False(t, scoped.Duplicate)
}

func TestTriggerValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Trigger(ctx, &TriggerRequest{Type: TypeCustom, Severity: SeverityLow, Title: "x"})
	require.Error(t, err)

	_, err = svc.Trigger(ctx, &TriggerRequest{OrganizationID: "org-1", Type: "bogus", Severity: SeverityLow, Title: "x"})
	require.Error(t, err)

	_, err = svc.Trigger(ctx, &TriggerRequest{OrganizationID: "org-1", Type: TypeCustom, Severity: "bogus", Title: "x"})
	require.Error(t, err)

	_, err = svc.Trigger(ctx, &TriggerRequest{OrganizationID: "org-1", Type: TypeCustom, Severity: SeverityLow})
	require.Error(t, err)
}

func TestTransitionsAndTerminalStates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	triggered, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)
	id := triggered.Alert.ID

	acked, err := svc.Acknowledge(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	resolved, err := svc.Resolve(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	// Terminal rows never move again.
	_, err = svc.Acknowledge(ctx, id)
	require.Error(t, err)
	_, err = svc.Dismiss(ctx, id)
	require.Error(t, err)

	// A fresh trigger of the same tuple creates a new row instead of
	// reopening the resolved one.
	again, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)
	require.False(t, again.Duplicate)
	require.NotEqual(t, id, again.Alert.ID)

	dismissed, err := svc.Dismiss(ctx, again.Alert.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDismissed, dismissed.Status)
	require.NotNil(t, dismissed.DismissedAt)

	_, err = svc.Resolve(ctx, "missing")
	require.Error(t, err)
}

func TestAutoResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	lowRunway, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)

	inactivity, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeInactivity))
	require.NoError(t, err)
	_, err = svc.Acknowledge(ctx, inactivity.Alert.ID)
	require.NoError(t, err)

	// Different stream and non-listed type stay untouched.
	otherStream, err := svc.Trigger(ctx, trigger("org-1", "st-2", TypeLowRunway))
	require.NoError(t, err)
	otherType, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeSuspendedStream))
	require.NoError(t, err)

	count, err := svc.AutoResolve(ctx, "st-1", []Type{TypeLowRunway, TypeInactivity})
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	for _, id := range []string{lowRunway.Alert.ID, inactivity.Alert.ID} {
		record, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusResolved, record.Status)
		require.NotNil(t, record.ResolvedAt)
		require.Contains(t, string(record.Metadata), `"autoResolved":true`)
	}

	for _, id := range []string{otherStream.Alert.ID, otherType.Alert.ID} {
		record, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusOpen, record.Status)
	}

	count, err = svc.AutoResolve(ctx, "", []Type{TypeLowRunway})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestListFiltersClosed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	open, err := svc.Trigger(ctx, trigger("org-1", "st-1", TypeLowRunway))
	require.NoError(t, err)

	closed, err := svc.Trigger(ctx, trigger("org-1", "st-2", TypeLowRunway))
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, closed.Alert.ID)
	require.NoError(t, err)

	actionable, err := svc.List(ctx, "org-1", false)
	require.NoError(t, err)
	require.Len(t, actionable, 1)
	require.Equal(t, open.Alert.ID, actionable[0].ID)

	all, err := svc.List(ctx, "org-1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func seedStream(t *testing.T, db *gorm.DB, record *stream.Stream) {
	t.Helper()
	require.NoError(t, db.Create(record).Error)
}

func newTestGenerator(t *testing.T) (*Generator, *Service, *gorm.DB) {
	t.Helper()

	svc, db := newTestService(t)
	cfg := &config.Config{}
	cfg.Alerts.LowRunwayHours = 72
	cfg.Alerts.InactivityDays = 25

	return NewGenerator(GeneratorParams{DB: db, Alerts: svc, Config: cfg}), svc, db
}

func TestSweepLowRunwaySeverityTiers(t *testing.T) {
	gen, svc, db := newTestGenerator(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&employee.Employee{ID: "emp-1", OrganizationID: "org-1", Name: "Riley"}).Error)

	// Rate 1 token/hour against 12h, 36h and 60h of runway.
	for i, deposited := range []int64{12_000_000, 36_000_000, 60_000_000} {
		seedStream(t, db, &stream.Stream{
			ID:             string(rune('a' + i)),
			OrganizationID: "org-1",
			EmployeeID:     "emp-1",
			StreamAddress:  "addr-" + string(rune('a'+i)),
			HourlyRate:     1_000_000,
			TotalDeposited: deposited,
			State:          stream.StateActive,
			LastActivityAt: time.Now(),
		})
	}

	result, err := gen.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.AlertsCreated)

	alerts, err := svc.List(ctx, "org-1", false)
	require.NoError(t, err)

	severities := map[string]Severity{}
	for _, a := range alerts {
		require.Equal(t, TypeLowRunway, a.Type)
		require.Equal(t, "Low runway warning", a.Title)
		severities[*a.StreamID] = a.Severity
	}
	require.Equal(t, SeverityCritical, severities["a"])
	require.Equal(t, SeverityHigh, severities["b"])
	require.Equal(t, SeverityMedium, severities["c"])
}

func TestSweepInactivitySuspendedAndEmptyVault(t *testing.T) {
	gen, svc, db := newTestGenerator(t)
	ctx := context.Background()

	// Inactive for 30 days, plenty of runway.
	seedStream(t, db, &stream.Stream{
		ID:             "stale",
		OrganizationID: "org-1",
		StreamAddress:  "addr-stale",
		HourlyRate:     1_000_000,
		TotalDeposited: 1_000_000_000,
		State:          stream.StateActive,
		LastActivityAt: time.Now().Add(-30 * 24 * time.Hour),
	})

	seedStream(t, db, &stream.Stream{
		ID:             "paused",
		OrganizationID: "org-1",
		StreamAddress:  "addr-paused",
		HourlyRate:     1_000_000,
		TotalDeposited: 1_000_000_000,
		State:          stream.StateSuspended,
		LastActivityAt: time.Now(),
	})

	seedStream(t, db, &stream.Stream{
		ID:              "drained",
		OrganizationID:  "org-1",
		StreamAddress:   "addr-drained",
		HourlyRate:      1_000_000,
		TotalDeposited:  5_000_000,
		WithdrawnAmount: 5_000_000,
		State:           stream.StateActive,
		LastActivityAt:  time.Now(),
	})

	result, err := gen.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.AlertsCreated)

	alerts, err := svc.List(ctx, "org-1", false)
	require.NoError(t, err)

	types := map[string]Type{}
	for _, a := range alerts {
		types[*a.StreamID] = a.Type
		require.Contains(t, a.Description, "Unknown Employee")
	}
	require.Equal(t, TypeInactivity, types["stale"])
	require.Equal(t, TypeSuspendedStream, types["paused"])
	require.Equal(t, TypeTokenAccount, types["drained"])

	alert, err := svc.Get(ctx, alerts[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, alert.Metadata)
}

func TestSweepIsIdempotent(t *testing.T) {
	gen, _, db := newTestGenerator(t)
	ctx := context.Background()

	seedStream(t, db, &stream.Stream{
		ID:             "st-dedup",
		OrganizationID: "org-1",
		HourlyRate:     1_000_000,
		TotalDeposited: 12_000_000,
		State:          stream.StateActive,
		LastActivityAt: time.Now(),
	})

	first, err := gen.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.AlertsCreated)

	second, err := gen.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.AlertsChecked)
	require.Zero(t, second.AlertsCreated)
}

func TestSweepSkipsClosedStreams(t *testing.T) {
	gen, _, db := newTestGenerator(t)
	ctx := context.Background()

	seedStream(t, db, &stream.Stream{
		ID:             "st-closed",
		OrganizationID: "org-1",
		HourlyRate:     1_000_000,
		TotalDeposited: 1_000_000,
		State:          stream.StateClosed,
		LastActivityAt: time.Now().Add(-60 * 24 * time.Hour),
	})

	result, err := gen.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.AlertsChecked)
	require.Zero(t, result.AlertsCreated)
}
