package auth

import (
	"github.com/ragline/delivery-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(
		func(cfg *config.Config) *JWTAuthenticator {
			return NewJWTAuthenticator(cfg.Auth.Secret)
		},
		fx.Annotate(
			func(a *JWTAuthenticator) Authenticator { return a },
			fx.As(new(Authenticator)),
		),
	),
)
