// Package boot assembles the tracking service and its HTTP server from
// Settings. Both binaries share it: the HTTP server and the Lambda entry
// point differ only in how they serve the resulting handler.
package boot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/api"
	"github.com/cowbook/cowbook-api/internal/archive"
	"github.com/cowbook/cowbook-api/internal/events"
	"github.com/cowbook/cowbook-api/internal/logging"
	"github.com/cowbook/cowbook-api/internal/pipeline"
	"github.com/cowbook/cowbook-api/internal/progress"
	"github.com/cowbook/cowbook-api/internal/runconfig"
	"github.com/cowbook/cowbook-api/internal/settings"
	"github.com/cowbook/cowbook-api/internal/store"
	"github.com/cowbook/cowbook-api/internal/tracking"
)

// Build-time identity, set with -ldflags "-X".
var (
	CommitHash string
	BuildTime  string
)

// GetParameterAPI is the subset of the SSM client LoadBase needs.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// App is a fully wired service.
type App struct {
	Settings settings.Settings
	Service  *tracking.Service
	Server   *api.Server

	closers []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NeedsAWS reports whether any configured integration talks to AWS.
func NeedsAWS(s settings.Settings) bool {
	return s.ConfigParam != "" || s.ArchiveBucket != "" || s.RunsTable != "" || s.EventBus != ""
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// LoadBase loads the base run configuration once: from the SSM parameter
// when one is configured, otherwise from the JSON file. When videos are
// exposed the video folder is added and created.
func LoadBase(ctx context.Context, s settings.Settings, params GetParameterAPI) (runconfig.Base, error) {
	var base runconfig.Base
	if s.ConfigParam != "" {
		if params == nil {
			return runconfig.Base{}, fmt.Errorf("config parameter %s set but no SSM client", s.ConfigParam)
		}
		start := time.Now()
		out, err := params.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(s.ConfigParam),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return runconfig.Base{}, fmt.Errorf("read config parameter %s: %w", s.ConfigParam, err)
		}
		if out.Parameter == nil {
			return runconfig.Base{}, fmt.Errorf("config parameter %s has no value", s.ConfigParam)
		}
		base, err = runconfig.Parse([]byte(aws.ToString(out.Parameter.Value)))
		if err != nil {
			return runconfig.Base{}, fmt.Errorf("parse config parameter %s: %w", s.ConfigParam, err)
		}
		log.Debug().Str("param", s.ConfigParam).Dur("elapsed", time.Since(start)).Msg("Base configuration loaded from SSM")
	} else {
		var err error
		base, err = runconfig.LoadFile(s.ConfigPath)
		if err != nil {
			return runconfig.Base{}, err
		}
		log.Debug().Str("path", s.ConfigPath).Int("keys", base.Len()).Msg("Base configuration loaded")
	}

	if s.ExposeVideos {
		if err := os.MkdirAll(s.VideoDir, 0o755); err != nil {
			return runconfig.Base{}, fmt.Errorf("create video dir: %w", err)
		}
		base = base.With(runconfig.KeyOutputVideoFolder, s.VideoDir)
	}
	return base, nil
}

// Build wires every component described by s. name identifies the binary
// in the startup log.
func Build(ctx context.Context, name string, s settings.Settings) (*App, error) {
	initStart := time.Now()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	app := &App{Settings: s}
	startup := logging.NewStartupLogger(name).CommitHash(CommitHash).BuildTime(BuildTime)

	var awsCfg aws.Config
	var ssmClient GetParameterAPI
	if NeedsAWS(s) {
		cfg, err := InitAWS(ctx)
		if err != nil {
			return nil, err
		}
		awsCfg = cfg
		ssmClient = ssm.NewFromConfig(cfg)
	}

	base, err := LoadBase(ctx, s, ssmClient)
	if err != nil {
		return nil, err
	}

	invoker, err := pipeline.NewExec(s.PipelineCmd)
	if err != nil {
		return nil, err
	}

	var sinks []tracking.Sink
	var runs store.RunStore
	if s.ArchiveBucket != "" {
		a, err := archive.New(s3.NewFromConfig(awsCfg), s.ArchiveBucket)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a)
	}
	if s.RunsTable != "" {
		ds := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), s.RunsTable)
		sinks = append(sinks, ds)
		runs = ds
	}
	if s.EventBus != "" {
		sinks = append(sinks, events.NewPublisher(eventbridge.NewFromConfig(awsCfg), s.EventBus))
	}

	var reporter tracking.Reporter
	if s.RedisURL != "" {
		client, err := progress.Connect(ctx, s.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		reporter = progress.NewReporter(client)
		startup.Redis("progress", redisAddr(s.RedisURL))
	}

	videoRoute := ""
	if s.ExposeVideos {
		videoRoute = s.VideoRoute
	}

	app.Service, err = tracking.NewService(tracking.Options{
		Base:            base,
		ModelPath:       s.ModelPath,
		Invoker:         invoker,
		WorkDir:         s.WorkDir,
		GroupIndex:      s.GroupIndex,
		PipelineTimeout: s.PipelineTimeout,
		StrictPairing:   s.StrictPairing,
		VideoRoute:      videoRoute,
		Metrics:         s.Metrics,
		Reporter:        reporter,
		Sinks:           sinks,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	videoDir := ""
	if s.ExposeVideos {
		videoDir = s.VideoDir
	}
	app.Server = api.NewServer(api.Options{
		Tracker:         app.Service,
		Runs:            runs,
		AllowedOrigins:  s.AllowedOrigins,
		MaxUploadMemory: s.MaxUploadMemory,
		VideoDir:        videoDir,
		VideoRoute:      videoRoute,
		Metrics:         s.Metrics,
	})

	startup.
		S3Bucket("archive", s.ArchiveBucket).
		DynamoTable("runs", s.RunsTable).
		EventBus("runs", s.EventBus).
		SSMParam("config", s.ConfigParam).
		Feature("exposeVideos", s.ExposeVideos).
		Feature("strictPairing", s.StrictPairing).
		Feature("metrics", s.Metrics).
		Config("modelPath", s.ModelPath).
		Config("pipelineCmd", s.PipelineCmd).
		Config("pipelineTimeout", s.PipelineTimeout.String()).
		Config("workDir", s.WorkDir).
		InitDuration(time.Since(initStart)).
		Log()

	return app, nil
}

// redisAddr strips credentials from a redis URL for logging.
func redisAddr(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Host
}
