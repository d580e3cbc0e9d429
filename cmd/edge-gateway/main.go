package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/fx"

	"review-gateway/internal/client"
	"review-gateway/internal/config"
	"review-gateway/internal/handler"
	"review-gateway/internal/metrics"
	"review-gateway/internal/server"
	"review-gateway/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("edge-gateway"),
		kong.Description("Normalizes viewer requests and forwards them to the signed review origin."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			server.NewLogger,
			metrics.New,
			server.NewAWSConfig,
			server.NewEcho,
			newSigner,
			client.NewOriginClient,
			service.NewGatewayService,
			handler.NewGatewayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			server.WarnConfigPermissions,
			handler.RegisterGatewayRoutes,
			handler.RegisterMetricsRoute,
			server.Start,
		),
	).Run()
}

// newSigner signs origin requests with the process credentials, the way the
// CDN's origin access control would.
func newSigner(cfg *config.Config, awsCfg aws.Config) (*client.Signer, error) {
	region := cfg.Edge.Region
	if region == "" {
		region = awsCfg.Region
	}
	return client.NewSigner(awsCfg.Credentials, cfg.Edge.SigningService, region)
}
