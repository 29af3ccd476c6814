package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"cascade-payroll/internal/chain"
	"cascade-payroll/services/activity"
	"cascade-payroll/services/employee"
	"cascade-payroll/services/organization"
	"cascade-payroll/services/stream"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
	ActionClose      Action = "close"
	ActionWithdraw   Action = "withdraw"
	ActionTopUp      Action = "top_up"
)

// eventActions maps mirrored stream event types onto the closed audit action
// set. Unknown types fall back to update.
var eventActions = map[activity.EventType]Action{
	activity.EventStreamCreated:           ActionCreate,
	activity.EventStreamTopUp:             ActionTopUp,
	activity.EventStreamWithdrawn:         ActionWithdraw,
	activity.EventStreamRefreshActivity:   ActionUpdate,
	activity.EventStreamEmergencyWithdraw: ActionWithdraw,
	activity.EventStreamSuspended:         ActionSuspend,
	activity.EventStreamClosed:            ActionClose,
	activity.EventStreamReactivated:       ActionReactivate,
}

func actionFor(eventType activity.EventType) Action {
	if action, ok := eventActions[eventType]; ok {
		return action
	}
	return ActionUpdate
}

type Change struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

type Entry struct {
	ID         string
	Timestamp  time.Time
	Entity     string
	EntityID   string
	EntityName string
	Action     Action
	Changes    map[string]Change
	Actor      string
	ActorType  activity.ActorType
	IPAddress  string
	Signature  string
	Metadata   datatypes.JSON
}

type Filters struct {
	Limit     int
	Entity    string
	Action    Action
	StartDate *time.Time
	EndDate   *time.Time
}

const defaultLimit = 100

// IP addresses are not tracked in the current schema.
const unknownIP = "0.0.0.0"

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Trail reconstructs a unified audit timeline for an organization from three
// disjoint sources: employee status history, mirrored stream events and the
// activity feed. The sources are fetched concurrently, merged, sorted newest
// first, filtered, then truncated to the limit.
func (s *Service) Trail(ctx context.Context, organizationID string, filters Filters) ([]*Entry, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		statusEntries   []*Entry
		eventEntries    []*Entry
		activityEntries []*Entry
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		statusEntries, err = s.statusHistoryEntries(groupCtx, organizationID, limit)
		return err
	})
	group.Go(func() (err error) {
		eventEntries, err = s.streamEventEntries(groupCtx, organizationID, limit)
		return err
	})
	group.Go(func() (err error) {
		activityEntries, err = s.activityEntries(groupCtx, organizationID, limit)
		return err
	})
	if err := group.Wait(); err != nil {
		zap.L().Error("failed to assemble audit trail",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
			zap.String("organization_id", organizationID),
			zap.Error(err),
		)
		return nil, err
	}

	entries := make([]*Entry, 0, len(statusEntries)+len(eventEntries)+len(activityEntries))
	entries = append(entries, statusEntries...)
	entries = append(entries, eventEntries...)
	entries = append(entries, activityEntries...)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	entries = applyFilters(entries, filters)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func applyFilters(entries []*Entry, filters Filters) []*Entry {
	filtered := entries

	if filters.Entity != "" {
		needle := strings.ToLower(filters.Entity)
		filtered = keep(filtered, func(e *Entry) bool {
			return strings.Contains(strings.ToLower(e.Entity), needle)
		})
	}
	if filters.Action != "" {
		filtered = keep(filtered, func(e *Entry) bool { return e.Action == filters.Action })
	}
	if filters.StartDate != nil {
		filtered = keep(filtered, func(e *Entry) bool { return !e.Timestamp.Before(*filters.StartDate) })
	}
	if filters.EndDate != nil {
		filtered = keep(filtered, func(e *Entry) bool { return !e.Timestamp.After(*filters.EndDate) })
	}
	return filtered
}

func keep(entries []*Entry, pred func(*Entry) bool) []*Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Service) statusHistoryEntries(ctx context.Context, organizationID string, limit int) ([]*Entry, error) {
	var rows []struct {
		employee.StatusHistory
		EmployeeName  string
		EmployeeEmail string
	}

	if err := s.db.WithContext(ctx).
		Model(&employee.StatusHistory{}).
		Select("employee_status_history.*, employees.name AS employee_name, employees.email AS employee_email").
		Joins("LEFT JOIN employees ON employees.id = employee_status_history.employee_id").
		Where("employees.organization_id = ?", organizationID).
		Order("employee_status_history.created_at DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		changes := map[string]Change{
			"status": {Before: stateLabel(row.FromState), After: string(row.ToState)},
		}
		if row.Note != "" {
			changes["note"] = Change{Before: "-", After: row.Note}
		}

		entityName := row.EmployeeName
		if entityName == "" {
			entityName = row.EmployeeEmail
		}
		if entityName == "" {
			entityName = "Unknown"
		}

		actor := row.Actor
		actorType := activity.ActorEmployer
		if actor == "" {
			actor = "system"
			actorType = activity.ActorSystem
		}

		entries = append(entries, &Entry{
			ID:         row.ID,
			Timestamp:  row.CreatedAt,
			Entity:     "Employee",
			EntityID:   row.EmployeeID,
			EntityName: entityName,
			Action:     ActionUpdate,
			Changes:    changes,
			Actor:      actor,
			ActorType:  actorType,
			IPAddress:  unknownIP,
		})
	}
	return entries, nil
}

func stateLabel(state employee.State) string {
	if state == "" {
		return "none"
	}
	return string(state)
}

func (s *Service) streamEventEntries(ctx context.Context, organizationID string, limit int) ([]*Entry, error) {
	var rows []struct {
		stream.StreamEvent
		StreamAddress string
		EmployeeName  string
	}

	if err := s.db.WithContext(ctx).
		Model(&stream.StreamEvent{}).
		Select("stream_events.*, streams.stream_address AS stream_address, employees.name AS employee_name").
		Joins("LEFT JOIN streams ON streams.id = stream_events.stream_id").
		Joins("LEFT JOIN employees ON employees.id = streams.employee_id").
		Where("stream_events.organization_id = ?", organizationID).
		Order("stream_events.occurred_at DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		changes := map[string]Change{}
		if row.Amount > 0 {
			changes["amount"] = Change{
				Before: "-",
				After:  chain.FormatBaseUnits(uint64(row.Amount), chain.SupportedStablecoinDecimals) + " tokens",
			}
		}
		if row.EventType == activity.EventStreamCreated {
			name := row.EmployeeName
			if name == "" {
				name = "Unknown"
			}
			changes["employee"] = Change{Before: "-", After: name}
		}

		entityName := row.StreamAddress
		if entityName == "" {
			entityName = "Unknown"
		}

		actor := row.ActorAddress
		if actor == "" {
			actor = "system"
		}

		var signature string
		if row.Signature != nil {
			signature = *row.Signature
		}

		entries = append(entries, &Entry{
			ID:         row.ID,
			Timestamp:  row.OccurredAt,
			Entity:     "Stream",
			EntityID:   row.StreamID,
			EntityName: entityName,
			Action:     actionFor(row.EventType),
			Changes:    changes,
			Actor:      actor,
			ActorType:  row.ActorType,
			IPAddress:  unknownIP,
			Signature:  signature,
			Metadata:   row.Metadata,
		})
	}
	return entries, nil
}

func (s *Service) activityEntries(ctx context.Context, organizationID string, limit int) ([]*Entry, error) {
	var rows []struct {
		activity.OrganizationActivity
		StreamAddress string
	}

	if err := s.db.WithContext(ctx).
		Model(&activity.OrganizationActivity{}).
		Select("organization_activity.*, streams.stream_address AS stream_address").
		Joins("LEFT JOIN streams ON streams.id = organization_activity.stream_id").
		Where("organization_activity.organization_id = ?", organizationID).
		Order("organization_activity.occurred_at DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	var organizationName string

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entity := "Organization"
		entityID := organizationID
		entityName := row.StreamAddress
		if row.StreamID != "" {
			entity = "Stream"
			entityID = row.StreamID
		}
		if entityName == "" {
			if organizationName == "" {
				organizationName = s.organizationName(ctx, organizationID)
			}
			entityName = organizationName
		}

		changes := map[string]Change{}
		if row.Description != "" {
			changes["description"] = Change{Before: "-", After: row.Description}
		}
		if status := metadataStatus(row.Metadata); status != "" {
			changes["status"] = Change{Before: "-", After: status}
		}

		actor := row.ActorAddress
		if actor == "" {
			actor = "system"
		}

		entries = append(entries, &Entry{
			ID:         row.ID,
			Timestamp:  row.OccurredAt,
			Entity:     entity,
			EntityID:   entityID,
			EntityName: entityName,
			Action:     actionFor(row.ActivityType),
			Changes:    changes,
			Actor:      actor,
			ActorType:  row.ActorType,
			IPAddress:  unknownIP,
			Metadata:   row.Metadata,
		})
	}
	return entries, nil
}

func metadataStatus(metadata datatypes.JSON) string {
	if len(metadata) == 0 {
		return ""
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(metadata, &decoded); err != nil {
		return ""
	}
	if status, ok := decoded["status"].(string); ok {
		return status
	}
	return ""
}

func (s *Service) organizationName(ctx context.Context, organizationID string) string {
	var org organization.Organization
	if err := s.db.WithContext(ctx).
		Where("id = ?", organizationID).
		First(&org).Error; err != nil {
		return "Unknown"
	}
	if org.Name == "" {
		return "Unknown"
	}
	return org.Name
}

// ExportCSV renders the filtered trail as CSV with a fixed header row.
func (s *Service) ExportCSV(ctx context.Context, organizationID string, filters Filters) (string, error) {
	entries, err := s.Trail(ctx, organizationID, filters)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"Timestamp", "Entity", "Entity ID", "Action", "Actor", "Actor Type", "Changes", "Signature"}
	if err := writer.Write(header); err != nil {
		return "", err
	}

	for _, entry := range entries {
		changes, err := json.Marshal(entry.Changes)
		if err != nil {
			return "", err
		}
		record := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Entity,
			entry.EntityID,
			string(entry.Action),
			entry.Actor,
			string(entry.ActorType),
			string(changes),
			entry.Signature,
		}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
