package alert

import (
	"go.uber.org/fx"
)

var Module = fx.Module("alert.module",
	fx.Provide(
		NewService,
		NewGenerator,
	),
)

// TaskModule wires the sweep into the asynq worker and its daily scheduler.
var TaskModule = fx.Module("alert.task",
	fx.Provide(
		NewTask,
		NewScheduler,
	),
	fx.Invoke(
		RegisterHandlers,
		StartScheduler,
	),
)
