// Package archive uploads a zstd-compressed JSON summary of every finished
// run to S3 under runs/<YYYY-MM-DD>/<runID>.json.zst.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

// KeyPrefix is the top-level prefix of archived runs.
const KeyPrefix = "runs"

// PutObjectAPI is the subset of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Document is the archived form of a run.
type Document struct {
	RunID           string             `json:"run_id"`
	Status          string             `json:"status"`
	CameraIDs       []int              `json:"camera_ids"`
	Uploads         int                `json:"uploads"`
	ResultFiles     int                `json:"result_files"`
	TrackingVideo   bool               `json:"tracking_video"`
	ProjectionVideo bool               `json:"projection_video"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	DurationMs      int64              `json:"duration_ms"`
	PipelineMs      int64              `json:"pipeline_ms"`
	Response        *tracking.Response `json:"response,omitempty"`
}

// NewDocument builds the archived form of run.
func NewDocument(run *tracking.Run) Document {
	doc := Document{
		RunID:           run.ID,
		Status:          run.Status,
		CameraIDs:       run.CameraIDs,
		Uploads:         run.Uploads,
		ResultFiles:     run.ResultFiles,
		TrackingVideo:   run.TrackingVideo,
		ProjectionVideo: run.ProjectionVideo,
		Error:           run.Error,
		StartedAt:       run.StartedAt.UTC(),
		DurationMs:      run.Duration.Milliseconds(),
		PipelineMs:      run.PipelineDuration.Milliseconds(),
		Response:        run.Response,
	}
	if doc.CameraIDs == nil {
		doc.CameraIDs = []int{}
	}
	if run.ErrorKind != tracking.KindUnknown {
		doc.ErrorKind = run.ErrorKind.String()
	}
	return doc
}

// Key returns the object key for run, dated by its UTC start day.
func Key(run *tracking.Run) string {
	return path.Join(KeyPrefix, run.StartedAt.UTC().Format("2006-01-02"), run.ID+".json.zst")
}

// Archiver is a tracking.Sink writing to one bucket.
type Archiver struct {
	client  PutObjectAPI
	bucket  string
	encoder *zstd.Encoder
}

var _ tracking.Sink = (*Archiver)(nil)

// New creates an Archiver. The encoder is shared across runs; EncodeAll
// is safe for concurrent use.
func New(client PutObjectAPI, bucket string) (*Archiver, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Archiver{client: client, bucket: bucket, encoder: enc}, nil
}

// RunFinished uploads the run's compressed document.
func (a *Archiver) RunFinished(ctx context.Context, run *tracking.Run) error {
	raw, err := json.Marshal(NewDocument(run))
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	body := a.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	key := Key(run)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		ContentLength:   aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"run-id": run.ID,
			"status": run.Status,
		},
	})
	if err != nil {
		return fmt.Errorf("upload run archive s3://%s/%s: %w", a.bucket, key, err)
	}

	log.Debug().
		Str("runId", run.ID).
		Str("key", key).
		Int("rawBytes", len(raw)).
		Int("compressedBytes", len(body)).
		Msg("Run archived")
	return nil
}

// Decode reads an archived document back from its compressed form.
func Decode(r io.Reader) (Document, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	var doc Document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode run document: %w", err)
	}
	return doc, nil
}
