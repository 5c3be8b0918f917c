package schema

import "go.uber.org/fx"

var Module = fx.Module("schema",
	fx.Provide(func() *Registry {
		r := NewRegistry()
		RegisterBuiltin(r)
		return r
	}),
)
