package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"cascade-payroll/pkg/config"
	"cascade-payroll/services/employee"
	"cascade-payroll/services/stream"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Generator sweeps the stream mirror and raises alerts for streams that need
// employer attention: low runway, prolonged inactivity, suspensions and empty
// vaults.
type Generator struct {
	db     *gorm.DB
	alerts *Service

	lowRunwayHours int
	inactivityDays int
}

type GeneratorParams struct {
	fx.In
	DB     *gorm.DB
	Alerts *Service
	Config *config.Config
}

func NewGenerator(p GeneratorParams) *Generator {
	lowRunwayHours := p.Config.Alerts.LowRunwayHours
	if lowRunwayHours <= 0 {
		lowRunwayHours = 72
	}
	inactivityDays := p.Config.Alerts.InactivityDays
	if inactivityDays <= 0 {
		inactivityDays = 25
	}

	return &Generator{
		db:     p.DB,
		alerts: p.Alerts,

		lowRunwayHours: lowRunwayHours,
		inactivityDays: inactivityDays,
	}
}

type SweepResult struct {
	AlertsChecked int
	AlertsCreated int
}

// Sweep evaluates every non-closed stream against the alert rules. Duplicate
// triggers are counted as checked but not created; a single failing stream
// never aborts the rest of the sweep.
func (g *Generator) Sweep(ctx context.Context) (*SweepResult, error) {
	var streams []*stream.Stream
	if err := g.db.WithContext(ctx).
		Where("state IN ?", []stream.State{stream.StateActive, stream.StateSuspended}).
		Find(&streams).Error; err != nil {
		return nil, err
	}

	result := &SweepResult{}
	if len(streams) == 0 {
		return result, nil
	}

	names, err := g.employeeNames(ctx, streams)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, record := range streams {
		for _, req := range g.evaluate(record, names[record.EmployeeID], now) {
			result.AlertsChecked++

			triggered, err := g.alerts.Trigger(ctx, req)
			if err != nil {
				zap.L().Warn("failed to trigger alert during sweep",
					zap.String("stream_id", record.ID),
					zap.String("type", string(req.Type)),
					zap.Error(err),
				)
				continue
			}
			if !triggered.Duplicate {
				result.AlertsCreated++
			}
		}
	}

	return result, nil
}

func (g *Generator) evaluate(record *stream.Stream, employeeName string, now time.Time) []*TriggerRequest {
	if employeeName == "" {
		employeeName = "Unknown Employee"
	}

	var requests []*TriggerRequest

	if record.State == stream.StateActive && record.HourlyRate > 0 {
		runwayHours := float64(record.VaultBalance()) / float64(record.HourlyRate)
		if runwayHours > 0 && runwayHours <= float64(g.lowRunwayHours) {
			severity := SeverityMedium
			switch {
			case runwayHours <= 24:
				severity = SeverityCritical
			case runwayHours <= 48:
				severity = SeverityHigh
			}

			metadata, _ := json.Marshal(map[string]interface{}{
				"runwayHours":   runwayHours,
				"vaultBalance":  record.VaultBalance(),
				"hourlyRate":    record.HourlyRate,
				"streamAddress": record.StreamAddress,
			})
			requests = append(requests, &TriggerRequest{
				OrganizationID: record.OrganizationID,
				Type:           TypeLowRunway,
				Severity:       severity,
				Title:          "Low runway warning",
				Description: fmt.Sprintf("Stream for %s has only %d hours of funding remaining.",
					employeeName, int64(math.Round(runwayHours))),
				StreamID:   record.ID,
				EmployeeID: record.EmployeeID,
				Metadata:   metadata,
			})
		}
	}

	if record.State == stream.StateActive && !record.LastActivityAt.IsZero() {
		hoursSinceActivity := now.Sub(record.LastActivityAt).Hours()
		if hoursSinceActivity >= float64(24*g.inactivityDays) {
			metadata, _ := json.Marshal(map[string]interface{}{
				"hoursSinceActivity": hoursSinceActivity,
				"lastActivityAt":     record.LastActivityAt.Format(time.RFC3339),
				"streamAddress":      record.StreamAddress,
			})
			requests = append(requests, &TriggerRequest{
				OrganizationID: record.OrganizationID,
				Type:           TypeInactivity,
				Severity:       SeverityHigh,
				Title:          "Stream inactive",
				Description: fmt.Sprintf("Stream for %s has been inactive for %d days.",
					employeeName, int64(math.Round(hoursSinceActivity/24))),
				StreamID:   record.ID,
				EmployeeID: record.EmployeeID,
				Metadata:   metadata,
			})
		}
	}

	if record.State == stream.StateSuspended {
		metadata, _ := json.Marshal(map[string]interface{}{
			"streamAddress": record.StreamAddress,
			"suspendedAt":   record.LastActivityAt.Format(time.RFC3339),
		})
		requests = append(requests, &TriggerRequest{
			OrganizationID: record.OrganizationID,
			Type:           TypeSuspendedStream,
			Severity:       SeverityMedium,
			Title:          "Stream suspended",
			Description:    fmt.Sprintf("Payment stream for %s is currently suspended.", employeeName),
			StreamID:       record.ID,
			EmployeeID:     record.EmployeeID,
			Metadata:       metadata,
		})
	}

	if record.State == stream.StateActive && record.VaultBalance() == 0 {
		metadata, _ := json.Marshal(map[string]interface{}{
			"streamAddress": record.StreamAddress,
			"vaultAddress":  record.VaultAddress,
		})
		requests = append(requests, &TriggerRequest{
			OrganizationID: record.OrganizationID,
			Type:           TypeTokenAccount,
			Severity:       SeverityCritical,
			Title:          "Empty vault",
			Description:    fmt.Sprintf("Stream for %s has zero balance. Top up immediately.", employeeName),
			StreamID:       record.ID,
			EmployeeID:     record.EmployeeID,
			Metadata:       metadata,
		})
	}

	return requests
}

func (g *Generator) employeeNames(ctx context.Context, streams []*stream.Stream) (map[string]string, error) {
	ids := make([]string, 0, len(streams))
	seen := map[string]bool{}
	for _, record := range streams {
		if record.EmployeeID == "" || seen[record.EmployeeID] {
			continue
		}
		seen[record.EmployeeID] = true
		ids = append(ids, record.EmployeeID)
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	var employees []*employee.Employee
	if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&employees).Error; err != nil {
		return nil, err
	}

	names := make(map[string]string, len(employees))
	for _, emp := range employees {
		names[emp.ID] = emp.Name
	}
	return names, nil
}
