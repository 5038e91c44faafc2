package di

import (
	"log"
	"net/http"
	"os"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/filter"
	"github.com/gatehouse-proxy/gatehouse/src/frontend"
	"github.com/gatehouse-proxy/gatehouse/src/guard"
	"github.com/gatehouse-proxy/gatehouse/src/proxy"
)

// App is a container pre-loaded with a validated configuration.
type App struct {
	Container

	// Config is the validated gateway configuration. It must be set before
	// any other dependency is requested.
	Config *config.Config
}

// Logger returns the logger shared by all components.
func (app *App) Logger() *log.Logger {
	return app.get(
		"logger",
		func() (interface{}, error) {
			return log.New(os.Stdout, "", log.LstdFlags), nil
		},
		nil,
	).(*log.Logger)
}

// Guard returns the per-client traffic guard.
func (app *App) Guard() *guard.Guard {
	return app.get(
		"guard",
		func() (interface{}, error) {
			return guard.New(app.Config.RateLimit, app.Logger()), nil
		},
		nil,
	).(*guard.Guard)
}

// Filter returns the blocked user-agent filter.
func (app *App) Filter() *filter.Filter {
	return app.get(
		"filter",
		func() (interface{}, error) {
			return filter.New(app.Config.Filter, app.Logger())
		},
		nil,
	).(*filter.Filter)
}

// Forwarder returns the engine that relays requests to the upstream origin.
func (app *App) Forwarder() *proxy.Forwarder {
	return app.get(
		"forwarder",
		func() (interface{}, error) {
			return &proxy.Forwarder{
				Config: app.Config,
				Client: app.HTTPClient(),
				Logger: app.Logger(),
			}, nil
		},
		nil,
	).(*proxy.Forwarder)
}

// HTTPClient returns the client used for upstream exchanges.
func (app *App) HTTPClient() *http.Client {
	var client *http.Client

	return app.get(
		"http-client",
		func() (interface{}, error) {
			client = proxy.NewClient()
			return client, nil
		},
		func() error {
			client.CloseIdleConnections()
			return nil
		},
	).(*http.Client)
}

// Server returns the front-end server.
func (app *App) Server() *frontend.Server {
	return app.get(
		"server",
		func() (interface{}, error) {
			return &frontend.Server{
				Config: app.Config,
				Handler: &frontend.Handler{
					Config:    app.Config,
					Guard:     app.Guard(),
					Filter:    app.Filter(),
					Forwarder: app.Forwarder(),
					Logger:    app.Logger(),
				},
				Guard:  app.Guard(),
				Logger: app.Logger(),
			}, nil
		},
		nil,
	).(*frontend.Server)
}
