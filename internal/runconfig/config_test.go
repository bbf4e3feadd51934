package runconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testBase(t *testing.T) Base {
	t.Helper()
	b, err := Parse([]byte(`{
		"conf_threshold": 0.4,
		"save_tracking_video": true,
		"cameras": {"1": {"homography": [1, 0, 0]}},
		"classes": ["cow"]
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return b
}

func TestCompose_OverridesWin(t *testing.T) {
	base := testBase(t)

	cfg := Compose(base, Overrides{
		ModelPath:         "/models/best.pt",
		OutputJSONFolder:  "/ws/output_jsons",
		OutputImageFolder: "/ws/output_frames",
	})

	if got := cfg.String(KeyModelPath); got != "/models/best.pt" {
		t.Errorf("model_path = %q", got)
	}
	if got := cfg.String(KeyOutputJSONFolder); got != "/ws/output_jsons" {
		t.Errorf("output_json_folder = %q", got)
	}
	if got := cfg.String(KeyOutputImageFolder); got != "/ws/output_frames" {
		t.Errorf("output_image_folder = %q", got)
	}
	// Base says true; the override says false.
	if cfg.Bool(KeySaveTrackingVideo) {
		t.Error("save_tracking_video should be overridden to false")
	}
	if cfg.Bool(KeyCreateProjectionVideo) {
		t.Error("create_projection_video should be false")
	}
	if v, ok := cfg.Get("conf_threshold"); !ok || v.(float64) != 0.4 {
		t.Errorf("conf_threshold = %v, %v", v, ok)
	}
}

func TestCompose_NeverMutatesBase(t *testing.T) {
	base := testBase(t)
	before := base.Map()

	first := Compose(base, Overrides{ModelPath: "a.pt", OutputJSONFolder: "/one", SaveTrackingVideo: true})
	second := Compose(base, Overrides{ModelPath: "b.pt", OutputJSONFolder: "/two", CreateProjectionVideo: true})

	if diff := cmp.Diff(before, base.Map()); diff != "" {
		t.Errorf("base changed after Compose (-before +after):\n%s", diff)
	}
	if first.String(KeyModelPath) != "a.pt" || second.String(KeyModelPath) != "b.pt" {
		t.Errorf("results are not independent: %q, %q", first.String(KeyModelPath), second.String(KeyModelPath))
	}
	if !first.Bool(KeySaveTrackingVideo) || second.Bool(KeySaveTrackingVideo) {
		t.Error("save_tracking_video leaked between results")
	}
	if first.Bool(KeyCreateProjectionVideo) || !second.Bool(KeyCreateProjectionVideo) {
		t.Error("create_projection_video leaked between results")
	}
}

func TestCompose_NestedValuesAreCopied(t *testing.T) {
	base := testBase(t)
	cfg := Compose(base, Overrides{})

	// Mutating what a caller gets back must not reach the base or the config.
	m := cfg.Map()
	m["cameras"].(map[string]any)["1"] = "clobbered"
	m["classes"].([]any)[0] = "horse"

	again := cfg.Map()
	if _, ok := again["cameras"].(map[string]any)["1"].(map[string]any); !ok {
		t.Error("nested map in run configuration was mutated through Map()")
	}
	if again["classes"].([]any)[0] != "cow" {
		t.Error("nested slice in run configuration was mutated through Map()")
	}
	if base.Map()["classes"].([]any)[0] != "cow" {
		t.Error("nested slice in base was mutated")
	}
}

func TestBaseWith_LeavesOriginal(t *testing.T) {
	base := testBase(t)
	extended := base.With(KeyOutputVideoFolder, "/srv/videos")

	if _, ok := base.Map()[KeyOutputVideoFolder]; ok {
		t.Error("With mutated the original base")
	}
	if extended.Map()[KeyOutputVideoFolder] != "/srv/videos" {
		t.Error("With did not set the key")
	}
	if extended.Len() != base.Len()+1 {
		t.Errorf("expected %d keys, got %d", base.Len()+1, extended.Len())
	}
}

func TestNewBase_CopiesInput(t *testing.T) {
	src := map[string]any{"fps": 10}
	base := NewBase(src)
	src["fps"] = 25

	if base.Map()["fps"] != 10 {
		t.Error("NewBase kept a reference to the caller's map")
	}
}

func TestParseToggle(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"True", true},
		{"TRUE", true},
		{"false", false},
		{"", false},
		{"1", false},
		{"yes", false},
		{"on", false},
		{" true", false},
	}

	for _, tc := range tests {
		if got := ParseToggle(tc.in); got != tc.want {
			t.Errorf("ParseToggle(%q) = %v, expected %v", tc.in, got, tc.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"iou_threshold": 0.5}`), 0o644); err != nil {
		t.Fatal(err)
	}

	base, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if base.Map()["iou_threshold"] != 0.5 {
		t.Errorf("unexpected base: %v", base.Map())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[1, 2]`), 0o644)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for non-object JSON")
	}

	null := filepath.Join(dir, "null.json")
	os.WriteFile(null, []byte(`null`), 0o644)
	if _, err := LoadFile(null); err == nil {
		t.Error("expected error for null JSON")
	}
}

func TestRunConfiguration_MarshalJSON(t *testing.T) {
	cfg := Compose(NewBase(map[string]any{"fps": 10.0}), Overrides{ModelPath: "m.pt"})

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"fps":                    10.0,
		KeyModelPath:             "m.pt",
		KeyOutputJSONFolder:      "",
		KeyOutputImageFolder:     "",
		KeySaveTrackingVideo:     false,
		KeyCreateProjectionVideo: false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("marshalled config mismatch (-want +got):\n%s", diff)
	}

	empty, _ := json.Marshal(RunConfiguration{})
	if string(empty) != "{}" {
		t.Errorf("zero RunConfiguration marshalled to %s", empty)
	}
}
