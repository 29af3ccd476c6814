package employee

import (
	"go.uber.org/fx"
)

var Module = fx.Module("employee.module",
	fx.Provide(
		NewService,
	),
)
