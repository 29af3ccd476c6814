package alert

import (
	"context"
	"encoding/json"
	"time"

	"cascade-payroll/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TaskAlertSweep = "alerts:sweep"

type Task struct {
	generator *Generator
}

type TaskParams struct {
	fx.In
	Generator *Generator
}

func NewTask(p TaskParams) *Task {
	return &Task{generator: p.Generator}
}

func (t *Task) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()

	result, err := t.generator.Sweep(ctx)
	if err != nil {
		zap.L().Error("alert sweep failed", zap.Error(err))
		return err
	}

	zap.L().Info("alert sweep finished",
		zap.Int("alerts_checked", result.AlertsChecked),
		zap.Int("alerts_created", result.AlertsCreated),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(TaskAlertSweep, t.HandleSweepTask)
}

// EnqueueSweep queues one alert sweep on the low-priority queue. Sweeps are
// idempotent so a dropped or duplicated task is harmless.
func EnqueueSweep(enqueuer task.Enqueuer) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})

	_, err := enqueuer.Enqueue(
		asynq.NewTask(TaskAlertSweep, payload),
		asynq.Queue("low"),
		asynq.MaxRetry(3),
	)
	return err
}
