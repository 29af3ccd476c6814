package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cascade-payroll/internal/chain"
	"cascade-payroll/pkg/config"
	"cascade-payroll/pkg/db"
	"cascade-payroll/pkg/logger"
	"cascade-payroll/pkg/redis"
	"cascade-payroll/pkg/task"
	"cascade-payroll/services/activity"
	"cascade-payroll/services/alert"
	"cascade-payroll/services/audit"
	"cascade-payroll/services/employee"
	"cascade-payroll/services/organization"
	"cascade-payroll/services/stream"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		chain.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
		),
		organization.Module,
		employee.Module,
		activity.Module,
		stream.Module,
		alert.Module,
		audit.Module,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&organization.Organization{},
		&organization.OrganizationUser{},
		&organization.OnboardingTask{},
		&employee.Employee{},
		&employee.StatusHistory{},
		&activity.OrganizationActivity{},
		&stream.Stream{},
		&stream.StreamEvent{},
		&stream.WithdrawalIntent{},
		&alert.Alert{},
	)
}
