package stream

import (
	"go.uber.org/fx"
)

var Module = fx.Module("stream.module",
	fx.Provide(
		NewService,
	),
)
