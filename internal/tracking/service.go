// Package tracking runs one multi-camera tracking request end to end:
// resolve camera indices, allocate a workspace, save the uploads, compose
// the run configuration, call the pipeline, aggregate its output and
// release the workspace.
//
// Input and infrastructure failures are returned as errors. Pipeline and
// aggregation failures come back as an error envelope in the Response so
// the client can tell "tracking failed" from "the service broke".
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/camera"
	"github.com/cowbook/cowbook-api/internal/metrics"
	"github.com/cowbook/cowbook-api/internal/pipeline"
	"github.com/cowbook/cowbook-api/internal/results"
	"github.com/cowbook/cowbook-api/internal/runconfig"
	"github.com/cowbook/cowbook-api/internal/upload"
	"github.com/cowbook/cowbook-api/internal/workspace"
)

// sinkTimeout bounds how long sinks may take after a run finishes.
const sinkTimeout = 15 * time.Second

// Request is one client submission.
type Request struct {
	Indices         []string
	Uploads         []upload.Upload
	TrackingVideo   bool
	ProjectionVideo bool
}

// Options configure a Service. Base, ModelPath and Invoker are shared
// read-only by every run.
type Options struct {
	Base       runconfig.Base
	ModelPath  string
	Invoker    pipeline.Invoker
	WorkDir    string
	GroupIndex int

	// PipelineTimeout bounds a pipeline call; zero means no limit.
	PipelineTimeout time.Duration

	// StrictPairing rejects requests whose upload and index counts differ
	// instead of pairing up to the shorter list.
	StrictPairing bool

	// VideoRoute enables tracking video URLs on runs that ask for them.
	VideoRoute string

	Metrics  bool
	Reporter Reporter
	Sinks    []Sink
}

// Service is safe for concurrent use.
type Service struct {
	opts       Options
	aggregator *results.Aggregator
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Invoker == nil {
		return nil, fmt.Errorf("tracking: pipeline invoker is required")
	}
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("tracking: model path is required")
	}
	if opts.GroupIndex == 0 {
		opts.GroupIndex = 1
	}
	return &Service{
		opts:       opts,
		aggregator: &results.Aggregator{VideoRoute: opts.VideoRoute},
	}, nil
}

// Process handles one request. The returned error is non-nil only for
// input (KindInput) and infrastructure (KindInfrastructure) failures;
// the workspace is released on every path.
func (s *Service) Process(ctx context.Context, req Request) (*Response, error) {
	run := &Run{
		ID:              uuid.NewString(),
		Uploads:         len(req.Uploads),
		TrackingVideo:   req.TrackingVideo,
		ProjectionVideo: req.ProjectionVideo,
		StartedAt:       time.Now(),
	}
	logger := log.With().Str("runId", run.ID).Logger()

	resp, err := s.process(ctx, run, req, &logger)
	run.finish(resp, err)

	logger.Info().
		Str("status", run.Status).
		Ints("cameraIds", run.CameraIDs).
		Int("resultFiles", run.ResultFiles).
		Dur("duration", run.Duration).
		Msg("Run finished")

	s.recordMetrics(run)
	s.notifySinks(ctx, run, &logger)

	switch run.ErrorKind {
	case KindPipeline, KindAggregation:
		return resp, nil
	}
	return resp, err
}

func (s *Service) process(ctx context.Context, run *Run, req Request, logger *zerolog.Logger) (*Response, error) {
	ids, err := camera.ResolveTokens(req.Indices)
	if err != nil {
		return nil, newError(KindInput, "resolve camera indices", err)
	}

	if len(ids) != len(req.Uploads) {
		if s.opts.StrictPairing {
			return nil, newError(KindInput, "pair uploads",
				fmt.Errorf("got %d videos but %d camera indices", len(req.Uploads), len(ids)))
		}
		logger.Warn().
			Int("videos", len(req.Uploads)).
			Int("indices", len(ids)).
			Msg("Video and index counts differ, extra entries are ignored")
	}
	run.CameraIDs = ids[:min(len(ids), len(req.Uploads))]
	s.report(ctx, run.ID, StepResolved)

	ws, err := workspace.Acquire(s.opts.WorkDir)
	if err != nil {
		return nil, newError(KindInfrastructure, "allocate workspace", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn().Err(err).Str("root", ws.Root).Msg("Failed to release workspace")
		}
		s.report(ctx, run.ID, StepReleased)
	}()

	group, err := upload.Materialize(ctx, ws.InputDir, req.Uploads, ids)
	if err != nil {
		return nil, newError(KindInfrastructure, "save uploads", err)
	}
	if len(group) == 0 {
		logger.Warn().Msg("No video group found")
	}
	for _, m := range group {
		logger.Info().Str("path", m.Path).Int("cameraId", m.CameraID).Msg("Video saved")
	}
	s.report(ctx, run.ID, StepMaterialized)

	cfg := runconfig.Compose(s.opts.Base, runconfig.Overrides{
		ModelPath:             s.opts.ModelPath,
		OutputJSONFolder:      ws.JSONDir,
		OutputImageFolder:     ws.FramesDir,
		SaveTrackingVideo:     req.TrackingVideo,
		CreateProjectionVideo: req.ProjectionVideo,
	})

	if err := s.invoke(ctx, run, pipeline.Request{
		GroupIndex: s.opts.GroupIndex,
		Group:      group,
		ModelRef:   s.opts.ModelPath,
		Config:     cfg,
		JSONDir:    ws.JSONDir,
		ImageDir:   ws.FramesDir,
		WorkDir:    ws.Root,
	}); err != nil {
		logger.Error().
			Err(err).
			Ints("cameraIds", group.CameraIDs()).
			Str("workspace", ws.Root).
			Dur("elapsed", run.PipelineDuration).
			Msg("Tracking pipeline failed")
		return errorResponse(err), newError(KindPipeline, "run pipeline", err)
	}

	entries, err := s.aggregator.Aggregate(ws.JSONDir, req.TrackingVideo)
	if err != nil {
		logger.Error().Err(err).Str("workspace", ws.Root).Msg("Failed to aggregate pipeline output")
		return errorResponse(err), newError(KindAggregation, "aggregate results", err)
	}
	run.ResultFiles = len(entries)
	s.report(ctx, run.ID, StepAggregated)

	return &Response{Status: StatusSuccess, Results: entries}, nil
}

func (s *Service) invoke(ctx context.Context, run *Run, req pipeline.Request) error {
	pctx := ctx
	if s.opts.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.opts.PipelineTimeout)
		defer cancel()
	}

	s.report(ctx, run.ID, StepPipelineStarted)
	start := time.Now()
	err := s.opts.Invoker.Run(pctx, req)
	run.PipelineDuration = time.Since(start)
	s.report(ctx, run.ID, StepPipelineFinished)

	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pipeline timed out after %s: %w", s.opts.PipelineTimeout, err)
	}
	return err
}

func errorResponse(err error) *Response {
	return &Response{Status: StatusError, Results: ErrorResult{Error: err.Error()}}
}

func (s *Service) report(ctx context.Context, runID string, step Step) {
	if s.opts.Reporter != nil {
		s.opts.Reporter.Report(ctx, runID, step)
	}
}

func (s *Service) notifySinks(ctx context.Context, run *Run, logger *zerolog.Logger) {
	if len(s.opts.Sinks) == 0 {
		return
	}
	// A client that hung up should not stop the run from being recorded.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, sink := range s.opts.Sinks {
		if err := sink.RunFinished(sctx, run); err != nil {
			logger.Warn().Err(err).Str("sink", fmt.Sprintf("%T", sink)).Msg("Run sink failed")
		}
	}
}

func (s *Service) recordMetrics(run *Run) {
	if !s.opts.Metrics {
		return
	}
	rec := metrics.New(metrics.Namespace).
		Dimension("Status", run.Status).
		Metric("RunLatencyMs", float64(run.Duration.Milliseconds()), metrics.UnitMilliseconds).
		Metric("Uploads", float64(run.Uploads), metrics.UnitCount).
		Metric("ResultFiles", float64(run.ResultFiles), metrics.UnitCount).
		Count("RunCount").
		Property("runId", run.ID)
	if run.PipelineDuration > 0 {
		rec.Metric("PipelineLatencyMs", float64(run.PipelineDuration.Milliseconds()), metrics.UnitMilliseconds)
	}
	if run.ErrorKind != KindUnknown {
		rec.Property("errorKind", run.ErrorKind.String())
	}
	rec.Flush()
}
