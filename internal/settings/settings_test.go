package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var allKeys = []string{
	"COWBOOK_PORT", "COWBOOK_CONFIG", "COWBOOK_CONFIG_PARAM", "COWBOOK_MODEL_PATH",
	"COWBOOK_WORK_DIR", "COWBOOK_PIPELINE_CMD", "COWBOOK_PIPELINE_TIMEOUT",
	"COWBOOK_GROUP_INDEX", "COWBOOK_ALLOWED_ORIGINS", "COWBOOK_VIDEO_DIR",
	"COWBOOK_VIDEO_ROUTE", "COWBOOK_EXPOSE_VIDEOS", "COWBOOK_STRICT_PAIRING",
	"COWBOOK_MAX_UPLOAD_MEMORY", "COWBOOK_METRICS", "COWBOOK_ARCHIVE_BUCKET",
	"COWBOOK_RUNS_TABLE", "COWBOOK_EVENT_BUS", "COWBOOK_REDIS_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Settings{
		Port:            8000,
		ConfigPath:      "config.json",
		ModelPath:       "models/yolov11_best.pt",
		PipelineCmd:     "python3 pipeline_runner.py",
		GroupIndex:      1,
		AllowedOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://127.0.0.1:8000"},
		VideoDir:        "output_videos",
		VideoRoute:      "/videos",
		MaxUploadMemory: 32 << 20,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
	if s.Addr() != ":8000" {
		t.Errorf("unexpected addr %q", s.Addr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COWBOOK_PORT", "9090")
	t.Setenv("COWBOOK_PIPELINE_TIMEOUT", "10m")
	t.Setenv("COWBOOK_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("COWBOOK_EXPOSE_VIDEOS", "true")
	t.Setenv("COWBOOK_STRICT_PAIRING", "1")
	t.Setenv("COWBOOK_REDIS_URL", "redis://localhost:6379/0")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Port != 9090 || s.PipelineTimeout != 10*time.Minute {
		t.Errorf("unexpected port/timeout: %d %s", s.Port, s.PipelineTimeout)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, s.AllowedOrigins); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}
	if !s.ExposeVideos || !s.StrictPairing {
		t.Error("expected boolean flags to be set")
	}
	if s.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("unexpected redis url %q", s.RedisURL)
	}
}

func TestLoad_TimeoutSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("COWBOOK_PIPELINE_TIMEOUT", "90")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.PipelineTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", s.PipelineTimeout)
	}
}

func TestLoad_MalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("COWBOOK_PORT", "eighty")
	t.Setenv("COWBOOK_METRICS", "maybe")
	t.Setenv("COWBOOK_PIPELINE_TIMEOUT", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"COWBOOK_PORT", "COWBOOK_METRICS", "COWBOOK_PIPELINE_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s in error, got %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"port", func(s *Settings) { s.Port = 70000 }},
		{"model", func(s *Settings) { s.ModelPath = "" }},
		{"pipeline", func(s *Settings) { s.PipelineCmd = "  " }},
		{"timeout", func(s *Settings) { s.PipelineTimeout = -time.Second }},
		{"memory", func(s *Settings) { s.MaxUploadMemory = 0 }},
		{"videos", func(s *Settings) { s.ExposeVideos = true; s.VideoRoute = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := base
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
