package activity

import (
	"context"
	"time"

	"cascade-payroll/pkg/db/option"
	"cascade-payroll/pkg/db/pagination"
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

	activities repository.Repository[OrganizationActivity]
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

		activities: repository.ProvideStore[OrganizationActivity](p.DB),
	}
}

type RecordRequest struct {
	OrganizationID string
	StreamID       string
	Title          string
	Description    string
	ActivityType   EventType
	ActorType      ActorType
	ActorAddress   string
	Metadata       []byte
}

func (s *Service) Record(ctx context.Context, req *RecordRequest) (*OrganizationActivity, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.OrganizationID == "" {
		return nil, errutil.ValidationFailed("organization id is required")
	}
	if req.Title == "" {
		return nil, errutil.ValidationFailed("activity title is required")
	}

	activityType := req.ActivityType
	if activityType == "" {
		activityType = EventStreamTopUp
	}
	actorType := req.ActorType
	if actorType == "" {
		actorType = ActorEmployer
	}

	record := &OrganizationActivity{
		ID:             s.node.Generate().String(),
		OrganizationID: req.OrganizationID,
		StreamID:       req.StreamID,
		Title:          req.Title,
		Description:    req.Description,
		ActivityType:   activityType,
		ActorType:      actorType,
		ActorAddress:   req.ActorAddress,
		OccurredAt:     time.Now().UTC(),
		Metadata:       req.Metadata,
	}

	if err := s.activities.Create(ctx, record); err != nil {
		zap.L().With(
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		).Error("failed to record activity", zap.Error(err))
		return nil, err
	}

	return record, nil
}

type ListResponse struct {
	Entries  []*OrganizationActivity
	PageInfo *pagination.PageInfo
}

// List returns the organization's feed newest-first with cursor pagination.
func (s *Service) List(ctx context.Context, organizationID string, page pagination.Pagination) (*ListResponse, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	page.Limit = limit

	entries, err := s.activities.Find(ctx, &OrganizationActivity{OrganizationID: organizationID},
		option.ApplyPaginationOn("occurred_at", page),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "occurred_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"occurred_at": true},
		}),
	)
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(limit), func(entry *OrganizationActivity) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: entry.OccurredAt.Format(time.RFC3339Nano),
			ID:        entry.ID,
		})
		return cursor
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}

	return &ListResponse{Entries: entries, PageInfo: pageInfo}, nil
}

// ListForStream returns the feed rows bound to one stream.
func (s *Service) ListForStream(ctx context.Context, organizationID, streamID string) ([]*OrganizationActivity, error) {
	return s.activities.Find(ctx, &OrganizationActivity{OrganizationID: organizationID, StreamID: streamID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "occurred_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"occurred_at": true},
		}),
	)
}
