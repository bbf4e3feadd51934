// Command cowbook-lambda serves the tracking API behind API Gateway (HTTP
// API, payload v2). Configuration comes from COWBOOK_* environment
// variables; the service is built once per cold start.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/boot"
	"github.com/cowbook/cowbook-api/internal/logging"
	"github.com/cowbook/cowbook-api/internal/settings"
)

var app *boot.App

func init() {
	logging.Init()

	s, err := settings.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid settings")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app, err = boot.Build(ctx, "cowbook-lambda", s)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}
}

func main() {
	adapter := httpadapter.NewV2(app.Server.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
