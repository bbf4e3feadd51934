// Package store keeps a short-lived history of tracking runs in DynamoDB.
//
// One item per run: PK RUN#{runId}, SK META. A TTL attribute (expiresAt)
// removes records after RunTTL.
package store

import (
	"context"
	"time"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

// RunTTL is how long a run record is kept.
const RunTTL = 7 * 24 * time.Hour

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	RunID           string `dynamodbav:"runId" json:"run_id"`
	Status          string `dynamodbav:"status" json:"status"`
	CameraIDs       []int  `dynamodbav:"cameraIds,omitempty" json:"camera_ids"`
	Uploads         int    `dynamodbav:"uploads" json:"uploads"`
	ResultFiles     int    `dynamodbav:"resultFiles" json:"result_files"`
	TrackingVideo   bool   `dynamodbav:"trackingVideo" json:"tracking_video"`
	ProjectionVideo bool   `dynamodbav:"projectionVideo" json:"projection_video"`
	ErrorKind       string `dynamodbav:"errorKind,omitempty" json:"error_kind,omitempty"`
	Error           string `dynamodbav:"error,omitempty" json:"error,omitempty"`
	StartedAt       string `dynamodbav:"startedAt" json:"started_at"`
	DurationMs      int64  `dynamodbav:"durationMs" json:"duration_ms"`
	PipelineMs      int64  `dynamodbav:"pipelineMs" json:"pipeline_ms"`
}

// RecordFromRun converts a finished run.
func RecordFromRun(run *tracking.Run) RunRecord {
	rec := RunRecord{
		RunID:           run.ID,
		Status:          run.Status,
		CameraIDs:       run.CameraIDs,
		Uploads:         run.Uploads,
		ResultFiles:     run.ResultFiles,
		TrackingVideo:   run.TrackingVideo,
		ProjectionVideo: run.ProjectionVideo,
		Error:           run.Error,
		StartedAt:       run.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:      run.Duration.Milliseconds(),
		PipelineMs:      run.PipelineDuration.Milliseconds(),
	}
	if run.ErrorKind != tracking.KindUnknown {
		rec.ErrorKind = run.ErrorKind.String()
	}
	return rec
}

// RunStore persists and looks up run records.
// GetRun returns (nil, nil) when the run is unknown or has expired.
type RunStore interface {
	PutRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
}
