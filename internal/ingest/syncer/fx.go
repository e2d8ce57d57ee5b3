package syncer

import "go.uber.org/fx"

var Module = fx.Module("ingest.sync",
	fx.Provide(New),
)
