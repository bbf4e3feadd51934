// Package events publishes run outcomes to an EventBridge bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

// Event source and detail types.
const (
	Source              = "cowbook-api"
	DetailTypeCompleted = "TrackingRunCompleted"
	DetailTypeFailed    = "TrackingRunFailed"
)

// PutEventsAPI is the subset of the EventBridge client the publisher uses.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// RunDetail is the event detail payload.
type RunDetail struct {
	RunID       string `json:"runId"`
	Status      string `json:"status"`
	CameraIDs   []int  `json:"cameraIds"`
	Uploads     int    `json:"uploads"`
	ResultFiles int    `json:"resultFiles"`
	ErrorKind   string `json:"errorKind,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// Publisher is a tracking.Sink that emits one event per run.
type Publisher struct {
	client PutEventsAPI
	bus    string
}

var _ tracking.Sink = (*Publisher)(nil)

// NewPublisher creates a Publisher for the named bus.
func NewPublisher(client PutEventsAPI, bus string) *Publisher {
	return &Publisher{client: client, bus: bus}
}

// DetailType picks the detail type for a run's status.
func DetailType(run *tracking.Run) string {
	if run.Status == tracking.StatusSuccess {
		return DetailTypeCompleted
	}
	return DetailTypeFailed
}

// RunFinished publishes the run's outcome. A failed entry is an error.
func (p *Publisher) RunFinished(ctx context.Context, run *tracking.Run) error {
	detail := RunDetail{
		RunID:       run.ID,
		Status:      run.Status,
		CameraIDs:   run.CameraIDs,
		Uploads:     run.Uploads,
		ResultFiles: run.ResultFiles,
		Error:       run.Error,
		DurationMs:  run.Duration.Milliseconds(),
	}
	if detail.CameraIDs == nil {
		detail.CameraIDs = []int{}
	}
	if run.ErrorKind != tracking.KindUnknown {
		detail.ErrorKind = run.ErrorKind.String()
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", DetailType(run), err)
	}

	detailType := DetailType(run)
	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.bus),
			Source:       aws.String(Source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(body)),
		}},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents reported %d failed entries", result.FailedEntryCount)
	}

	log.Debug().Str("runId", run.ID).Str("detailType", detailType).Msg("Run event published")
	return nil
}
