package main

import (
	"net/http"

	"github.com/darshannathani/pp-sub001/internal/api"
	"github.com/darshannathani/pp-sub001/internal/app"
	"github.com/darshannathani/pp-sub001/internal/auth"
)

// newRouter builds the HTTP handler for the wired services.
func newRouter(a *app.App) (http.Handler, error) {
	validator, err := api.NewValidator()
	if err != nil {
		return nil, err
	}
	h := &api.Handler{
		Ledger:      a.Ledger,
		Tasks:       a.Tasks,
		Withdrawals: a.Withdrawals,
		Reconciler:  a.Reconciler,
		Users:       a.Users,
		Validator:   validator,
		Logger:      a.Logger,
	}
	return api.NewRouter(h, auth.NewHandler(a.Auth, a.Logger), api.RouterConfig{
		Auth:           a.Auth,
		AllowedOrigins: a.Config.CORSAllowedOrigins,
		Logger:         a.Logger,
	}), nil
}
