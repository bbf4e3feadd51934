package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func intPtr(v int) *int { return &v }

func writeResults(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestClassify(t *testing.T) {
	tests := []struct {
		filename string
		merged   bool
		camID    *int
	}{
		{"merged_result.json", true, nil},
		{"cam_6_result.json", false, intPtr(6)},
		{"tracks_cam_12.json", false, intPtr(12)},
		{"summary.json", false, nil},
		{"camera_1.json", false, nil},
		{"merged_cam_4.json", true, nil},
	}

	for _, tc := range tests {
		t.Run(tc.filename, func(t *testing.T) {
			merged, camID := Classify(tc.filename)
			if merged != tc.merged {
				t.Errorf("merged = %v, expected %v", merged, tc.merged)
			}
			if diff := cmp.Diff(tc.camID, camID); diff != "" {
				t.Errorf("camID mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify_OverflowingCameraID(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	merged, camID := Classify("cam_99999999999999999999_result.json")
	if merged {
		t.Error("expected per-camera artifact")
	}
	if camID != nil {
		t.Errorf("expected nil camera id on overflow, got %d", *camID)
	}
	if !strings.Contains(buf.String(), "Camera id out of range") {
		t.Errorf("expected overflow warning, got log: %s", buf.String())
	}
}

func TestAggregate_SkipsHiddenFiles(t *testing.T) {
	dir := writeResults(t, map[string]string{
		".hidden.json":      `{"tmp": true}`,
		".cam_1_tmp.json":   `{"count": 9}`,
		"cam_1_result.json": `{"count": 1}`,
	})

	entries, err := (&Aggregator{}).Aggregate(dir, false)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "cam_1_result.json" {
		t.Errorf("expected only cam_1_result.json, got %+v", entries)
	}
}

func TestAggregate_SortedAndClassified(t *testing.T) {
	dir := writeResults(t, map[string]string{
		"merged_result.json": `{"tracks": []}`,
		"cam_6_result.json":  `{"count": 3}`,
		"summary.json":       `[1, 2]`,
		"cam_1_result.json":  `{"count": 1}`,
		"notes.txt":          "not a result",
	})
	os.Mkdir(filepath.Join(dir, "nested.json"), 0o755)

	agg := &Aggregator{}
	entries, err := agg.Aggregate(dir, false)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	want := []Entry{
		{Filename: "cam_1_result.json", CamID: intPtr(1), Data: json.RawMessage(`{"count": 1}`)},
		{Filename: "cam_6_result.json", CamID: intPtr(6), Data: json.RawMessage(`{"count": 3}`)},
		{Filename: "merged_result.json", IsMerged: true, Data: json.RawMessage(`{"tracks": []}`)},
		{Filename: "summary.json", Data: json.RawMessage(`[1, 2]`)},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_EntryJSONShape(t *testing.T) {
	dir := writeResults(t, map[string]string{"merged.json": `{"count": 0}`})

	entries, err := (&Aggregator{}).Aggregate(dir, false)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"filename":"merged.json","is_merged":true,"cam_id":null,"data":{"count":0}}]`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestAggregate_EmptyDir(t *testing.T) {
	entries, err := (&Aggregator{}).Aggregate(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", entries)
	}
}

func TestAggregate_InvalidJSONAborts(t *testing.T) {
	dir := writeResults(t, map[string]string{
		"cam_1_result.json": `{"count": 1}`,
		"cam_4_result.json": `{"count": `,
	})

	_, err := (&Aggregator{}).Aggregate(dir, false)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if parseErr.Filename != "cam_4_result.json" {
		t.Errorf("expected cam_4_result.json to be blamed, got %s", parseErr.Filename)
	}
}

func TestAggregate_EmptyFileIsInvalid(t *testing.T) {
	dir := writeResults(t, map[string]string{"merged.json": ""})

	_, err := (&Aggregator{}).Aggregate(dir, false)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestAggregate_MissingDir(t *testing.T) {
	if _, err := (&Aggregator{}).Aggregate(filepath.Join(t.TempDir(), "gone"), false); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestAggregate_TrackingVideoURLs(t *testing.T) {
	dir := writeResults(t, map[string]string{
		"cam_8_result.json": `{}`,
		"merged.json":       `{}`,
	})
	agg := &Aggregator{VideoRoute: "/videos"}

	entries, err := agg.Aggregate(dir, true)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if got := *entries[0].TrackingVideoURL; got != "/videos/cam_8_result.avi" {
		t.Errorf("cam_8 url = %q", got)
	}
	if got := *entries[1].TrackingVideoURL; got != "/videos/merged.avi" {
		t.Errorf("merged url = %q", got)
	}

	entries, err = agg.Aggregate(dir, false)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for _, e := range entries {
		if e.TrackingVideoURL != nil {
			t.Errorf("%s: unexpected url %q when videos were not requested", e.Filename, *e.TrackingVideoURL)
		}
	}

	entries, err = (&Aggregator{}).Aggregate(dir, true)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if entries[0].TrackingVideoURL != nil {
		t.Error("expected no url without a video route")
	}
}

func TestVideoURL(t *testing.T) {
	tests := []struct {
		route, filename, want string
	}{
		{"/videos", "cam_1_result.json", "/videos/cam_1_result.avi"},
		{"videos/", "merged.json", "/videos/merged.avi"},
		{"/static/tracking", "x.json", "/static/tracking/x.avi"},
	}
	for _, tc := range tests {
		if got := VideoURL(tc.route, tc.filename); got != tc.want {
			t.Errorf("VideoURL(%q, %q) = %q, expected %q", tc.route, tc.filename, got, tc.want)
		}
	}
}
