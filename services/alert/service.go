package alert

import (
	"context"
	"encoding/json"
	"time"

	"cascade-payroll/pkg/errutil"
	"cascade-payroll/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	alerts repository.Repository[Alert]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		alerts: repository.ProvideStore[Alert](p.DB),
	}
}

type TriggerRequest struct {
	OrganizationID string
	Type           Type
	Severity       Severity
	Title          string
	Description    string
	StreamID       string
	EmployeeID     string
	Metadata       []byte
}

type TriggerResult struct {
	Alert     *Alert
	Duplicate bool
}

// Trigger inserts an alert unless an open one already exists for the same
// (organization, type, stream) tuple, in which case the existing row is
// returned flagged as a duplicate. Acknowledged and terminal rows never
// suppress a fresh trigger.
func (s *Service) Trigger(ctx context.Context, req *TriggerRequest) (*TriggerResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.OrganizationID == "" {
		return nil, errutil.ValidationFailed("organization id is required")
	}
	if !req.Type.Valid() {
		return nil, errutil.ValidationFailed("unknown alert type")
	}
	if !req.Severity.Valid() {
		return nil, errutil.ValidationFailed("unknown alert severity")
	}
	if req.Title == "" {
		return nil, errutil.ValidationFailed("alert title is required")
	}

	existing, err := s.findOpen(ctx, req.OrganizationID, req.Type, req.StreamID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &TriggerResult{Alert: existing, Duplicate: true}, nil
	}

	record := &Alert{
		ID:             s.node.Generate().String(),
		OrganizationID: req.OrganizationID,
		StreamID:       nullable(req.StreamID),
		EmployeeID:     nullable(req.EmployeeID),
		Type:           req.Type,
		Severity:       req.Severity,
		Status:         StatusOpen,
		Title:          req.Title,
		Description:    req.Description,
		TriggeredAt:    time.Now().UTC(),
		Metadata:       req.Metadata,
	}

	if err := s.alerts.Create(ctx, record); err != nil {
		return nil, err
	}

	zap.L().Info("alert triggered",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("alert_id", record.ID),
		zap.String("type", string(record.Type)),
		zap.String("severity", string(record.Severity)),
	)

	return &TriggerResult{Alert: record}, nil
}

func (s *Service) findOpen(ctx context.Context, organizationID string, alertType Type, streamID string) (*Alert, error) {
	query := s.db.WithContext(ctx).
		Where("organization_id = ? AND type = ? AND status = ?", organizationID, alertType, StatusOpen)

	if streamID == "" {
		query = query.Where("stream_id IS NULL")
	} else {
		query = query.Where("stream_id = ?", streamID)
	}

	var existing Alert
	if err := query.First(&existing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

// Acknowledge moves an open alert to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, alertID string) (*Alert, error) {
	return s.transition(ctx, alertID, StatusAcknowledged, func(a *Alert, now time.Time) {
		a.AcknowledgedAt = &now
	})
}

// Resolve closes an alert. Resolved rows are terminal.
func (s *Service) Resolve(ctx context.Context, alertID string) (*Alert, error) {
	return s.transition(ctx, alertID, StatusResolved, func(a *Alert, now time.Time) {
		a.ResolvedAt = &now
	})
}

// Dismiss closes an alert without resolving it. Dismissed rows are terminal.
func (s *Service) Dismiss(ctx context.Context, alertID string) (*Alert, error) {
	return s.transition(ctx, alertID, StatusDismissed, func(a *Alert, now time.Time) {
		a.DismissedAt = &now
	})
}

func (s *Service) transition(ctx context.Context, alertID string, next Status, stamp func(*Alert, time.Time)) (*Alert, error) {
	record, err := s.alerts.FindOne(ctx, &Alert{ID: alertID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errutil.NotFound("alert not found")
	}
	if record.Status.Terminal() {
		return nil, errutil.Conflict("alert is already closed")
	}
	if record.Status == next {
		return record, nil
	}

	now := time.Now().UTC()
	record.Status = next
	stamp(record, now)

	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// AutoResolve bulk-resolves every open or acknowledged alert of the given
// types for a stream, marking each row as auto-resolved. Returns the number
// of rows closed.
func (s *Service) AutoResolve(ctx context.Context, streamID string, types []Type) (int64, error) {
	if streamID == "" || len(types) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	metadata, _ := json.Marshal(map[string]interface{}{
		"autoResolved": true,
		"resolvedAt":   now.Format(time.RFC3339),
	})

	result := s.db.WithContext(ctx).Model(&Alert{}).
		Where("stream_id = ? AND type IN ? AND status IN ?", streamID, types, []Status{StatusOpen, StatusAcknowledged}).
		Updates(map[string]interface{}{
			"status":      StatusResolved,
			"resolved_at": now,
			"metadata":    metadata,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		zap.L().Info("alerts auto-resolved",
			zap.String("stream_id", streamID),
			zap.Int64("count", result.RowsAffected),
		)
	}

	return result.RowsAffected, nil
}

// List returns the actionable alerts for an organization, newest first.
// Closed rows are included only when requested.
func (s *Service) List(ctx context.Context, organizationID string, includeClosed bool) ([]*Alert, error) {
	query := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("triggered_at DESC")

	if !includeClosed {
		query = query.Where("status IN ?", []Status{StatusOpen, StatusAcknowledged})
	}

	var rows []*Alert
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) Get(ctx context.Context, alertID string) (*Alert, error) {
	record, err := s.alerts.FindOne(ctx, &Alert{ID: alertID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errutil.NotFound("alert not found")
	}
	return record, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
