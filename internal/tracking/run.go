package tracking

import (
	"context"
	"time"
)

// Response statuses. "success" and "error" are the envelope the client
// sees; the other two only appear on Run records.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Response is the body returned to the client. Results holds either the
// list of result entries or an ErrorResult.
type Response struct {
	Status  string `json:"status"`
	Results any    `json:"results"`
}

// ErrorResult is the results payload of an error envelope.
type ErrorResult struct {
	Error string `json:"error"`
}

// Step names a point in a run's lifecycle.
type Step string

const (
	StepResolved         Step = "resolved"
	StepMaterialized     Step = "materialized"
	StepPipelineStarted  Step = "pipeline_started"
	StepPipelineFinished Step = "pipeline_finished"
	StepAggregated       Step = "aggregated"
	StepReleased         Step = "released"
)

// Reporter receives step transitions while a run is in flight. It must not
// block for long; failures are the reporter's own business.
type Reporter interface {
	Report(ctx context.Context, runID string, step Step)
}

// Sink receives every finished run, after its workspace is released.
type Sink interface {
	RunFinished(ctx context.Context, run *Run) error
}

// Run summarizes one call to Service.Process.
type Run struct {
	ID               string
	CameraIDs        []int
	Uploads          int
	ResultFiles      int
	TrackingVideo    bool
	ProjectionVideo  bool
	Status           string
	ErrorKind        Kind
	Error            string
	StartedAt        time.Time
	Duration         time.Duration
	PipelineDuration time.Duration
	Response         *Response
}

func (r *Run) finish(resp *Response, err error) {
	r.Duration = time.Since(r.StartedAt)
	r.Response = resp
	if err == nil {
		r.Status = StatusSuccess
		return
	}

	r.ErrorKind = KindOf(err)
	r.Error = err.Error()
	switch r.ErrorKind {
	case KindInput:
		r.Status = StatusRejected
	case KindPipeline, KindAggregation:
		r.Status = StatusError
	default:
		r.Status = StatusFailed
	}
}
