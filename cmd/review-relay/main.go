package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/fx"

	"review-gateway/internal/agent"
	"review-gateway/internal/config"
	"review-gateway/internal/handler"
	"review-gateway/internal/metrics"
	"review-gateway/internal/paramstore"
	"review-gateway/internal/relay"
	"review-gateway/internal/repository"
	"review-gateway/internal/server"
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
		kong.Name("review-relay"),
		kong.Description("Streams Bedrock agent code reviews to HTTP clients."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	common := fx.Options(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			server.NewLogger,
			metrics.New,
			server.NewAWSConfig,
			newAgentClient,
			newSessionStore,
			newRelay,
		),
		fx.Invoke(server.WarnConfigPermissions),
	)

	if cli.Lambda {
		var fn *handler.FunctionURLHandler
		app := fx.New(
			common,
			fx.Provide(handler.NewFunctionURLHandler),
			fx.Populate(&fn),
			fx.NopLogger,
		)
		if err := app.Err(); err != nil {
			slog.Error("failed to build relay", "err", err)
			os.Exit(1)
		}
		lambda.Start(fn.Handle)
		return
	}

	fx.New(
		common,
		fx.Provide(
			server.NewEcho,
			handler.NewReviewHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRelayRoutes, handler.RegisterMetricsRoute, server.Start),
	).Run()
}

// newAgentClient builds the Bedrock agent client. Agent ids missing from the
// config are read from SSM under agent.param_prefix.
func newAgentClient(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*agent.Client, error) {
	agentID, aliasID := cfg.Agent.AgentID, cfg.Agent.AgentAliasID
	if agentID == "" && cfg.Agent.ParamPrefix != "" {
		params, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		agentID, aliasID, err = agent.ResolveIDs(ctx, params, cfg.Agent.ParamPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info("agent ids loaded from parameter store", "prefix", cfg.Agent.ParamPrefix)
	}

	return agent.NewClient(
		bedrockagentruntime.NewFromConfig(awsCfg),
		agentID,
		aliasID,
		logger,
		agent.WithStreamFinalResponse(cfg.Agent.StreamsFinalResponse()),
	)
}

// newSessionStore returns nil when no session table is configured.
func newSessionStore(cfg *config.Config, awsCfg aws.Config) (*repository.SessionStore, error) {
	if cfg.Sessions.Table == "" {
		return nil, nil
	}
	ttl := time.Duration(cfg.Sessions.TTLHours) * time.Hour
	return repository.New(dynamodb.NewFromConfig(awsCfg), cfg.Sessions.Table, ttl)
}

func newRelay(cfg *config.Config, c *agent.Client, store *repository.SessionStore, m *metrics.Metrics, logger *slog.Logger) (*relay.Relay, error) {
	opts := []relay.Option{
		relay.WithChunkDelay(time.Duration(cfg.Agent.ChunkDelayMS) * time.Millisecond),
	}
	if store != nil {
		opts = append(opts, relay.WithRecorder(store))
		logger.Info("session records enabled", "table", cfg.Sessions.Table)
	}
	return relay.New(c, m, logger, opts...)
}
