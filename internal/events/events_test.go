package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/go-cmp/cmp"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

type fakeBus struct {
	input  *eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeBus) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestPublisher_Completed(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, "cowbook")

	run := &tracking.Run{ID: "r1", Status: tracking.StatusSuccess, CameraIDs: []int{1}, Uploads: 1, ResultFiles: 2}
	if err := p.RunFinished(context.Background(), run); err != nil {
		t.Fatalf("RunFinished failed: %v", err)
	}

	if len(bus.input.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(bus.input.Entries))
	}
	entry := bus.input.Entries[0]
	if aws.ToString(entry.Source) != "cowbook-api" ||
		aws.ToString(entry.DetailType) != "TrackingRunCompleted" ||
		aws.ToString(entry.EventBusName) != "cowbook" {
		t.Errorf("unexpected entry %+v", entry)
	}

	var detail RunDetail
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil {
		t.Fatal(err)
	}
	want := RunDetail{RunID: "r1", Status: "success", CameraIDs: []int{1}, Uploads: 1, ResultFiles: 2}
	if diff := cmp.Diff(want, detail); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_FailedRun(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, "cowbook")

	run := &tracking.Run{ID: "r2", Status: tracking.StatusError, ErrorKind: tracking.KindPipeline, Error: "boom"}
	if err := p.RunFinished(context.Background(), run); err != nil {
		t.Fatalf("RunFinished failed: %v", err)
	}
	entry := bus.input.Entries[0]
	if aws.ToString(entry.DetailType) != "TrackingRunFailed" {
		t.Errorf("unexpected detail type %q", aws.ToString(entry.DetailType))
	}
	if !strings.Contains(aws.ToString(entry.Detail), `"errorKind":"pipeline"`) {
		t.Errorf("expected error kind in detail, got %s", aws.ToString(entry.Detail))
	}
	if !strings.Contains(aws.ToString(entry.Detail), `"cameraIds":[]`) {
		t.Errorf("expected empty camera list, got %s", aws.ToString(entry.Detail))
	}
}

func TestPublisher_FailedEntry(t *testing.T) {
	bus := &fakeBus{output: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{{
			ErrorCode:    aws.String("InternalFailure"),
			ErrorMessage: aws.String("try again"),
		}},
	}}
	err := NewPublisher(bus, "cowbook").RunFinished(context.Background(), &tracking.Run{ID: "r3"})
	if err == nil || !strings.Contains(err.Error(), "InternalFailure") {
		t.Errorf("expected failed entry error, got %v", err)
	}
}

func TestPublisher_CallError(t *testing.T) {
	bus := &fakeBus{err: errors.New("no route")}
	err := NewPublisher(bus, "cowbook").RunFinished(context.Background(), &tracking.Run{ID: "r4"})
	if !errors.Is(err, bus.err) {
		t.Errorf("expected wrapped call error, got %v", err)
	}
}
