// Package settings reads process configuration from COWBOOK_* environment
// variables. Command-line flags in cmd/cowbook-api override these values.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultPort            = 8000
	DefaultConfigPath      = "config.json"
	DefaultModelPath       = "models/yolov11_best.pt"
	DefaultPipelineCmd     = "python3 pipeline_runner.py"
	DefaultGroupIndex      = 1
	DefaultVideoDir        = "output_videos"
	DefaultVideoRoute      = "/videos"
	DefaultMaxUploadMemory = 32 << 20
)

// DefaultAllowedOrigins are the local frontend origins allowed by CORS.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:8000",
}

// Settings is the process configuration.
type Settings struct {
	Port            int
	ConfigPath      string
	ConfigParam     string
	ModelPath       string
	WorkDir         string
	PipelineCmd     string
	PipelineTimeout time.Duration
	GroupIndex      int
	AllowedOrigins  []string
	VideoDir        string
	VideoRoute      string
	ExposeVideos    bool
	StrictPairing   bool
	MaxUploadMemory int64
	Metrics         bool

	// Optional integrations; empty disables each one.
	ArchiveBucket string
	RunsTable     string
	EventBus      string
	RedisURL      string
}

// Load reads Settings from the environment. Malformed numbers, durations
// and booleans are errors rather than silent defaults.
func Load() (Settings, error) {
	var errs []error
	s := Settings{
		Port:            getEnvInt("COWBOOK_PORT", DefaultPort, &errs),
		ConfigPath:      getEnv("COWBOOK_CONFIG", DefaultConfigPath),
		ConfigParam:     os.Getenv("COWBOOK_CONFIG_PARAM"),
		ModelPath:       getEnv("COWBOOK_MODEL_PATH", DefaultModelPath),
		WorkDir:         os.Getenv("COWBOOK_WORK_DIR"),
		PipelineCmd:     getEnv("COWBOOK_PIPELINE_CMD", DefaultPipelineCmd),
		PipelineTimeout: getEnvDuration("COWBOOK_PIPELINE_TIMEOUT", 0, &errs),
		GroupIndex:      getEnvInt("COWBOOK_GROUP_INDEX", DefaultGroupIndex, &errs),
		AllowedOrigins:  getEnvList("COWBOOK_ALLOWED_ORIGINS", DefaultAllowedOrigins),
		VideoDir:        getEnv("COWBOOK_VIDEO_DIR", DefaultVideoDir),
		VideoRoute:      getEnv("COWBOOK_VIDEO_ROUTE", DefaultVideoRoute),
		ExposeVideos:    getEnvBool("COWBOOK_EXPOSE_VIDEOS", false, &errs),
		StrictPairing:   getEnvBool("COWBOOK_STRICT_PAIRING", false, &errs),
		MaxUploadMemory: int64(getEnvInt("COWBOOK_MAX_UPLOAD_MEMORY", DefaultMaxUploadMemory, &errs)),
		Metrics:         getEnvBool("COWBOOK_METRICS", false, &errs),
		ArchiveBucket:   os.Getenv("COWBOOK_ARCHIVE_BUCKET"),
		RunsTable:       os.Getenv("COWBOOK_RUNS_TABLE"),
		EventBus:        os.Getenv("COWBOOK_EVENT_BUS"),
		RedisURL:        os.Getenv("COWBOOK_REDIS_URL"),
	}
	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	return s, s.Validate()
}

// Validate checks values that flags or the environment may have broken.
func (s Settings) Validate() error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.ModelPath == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if strings.TrimSpace(s.PipelineCmd) == "" {
		errs = append(errs, errors.New("pipeline command is required"))
	}
	if s.PipelineTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline timeout %s is negative", s.PipelineTimeout))
	}
	if s.MaxUploadMemory <= 0 {
		errs = append(errs, fmt.Errorf("max upload memory %d must be positive", s.MaxUploadMemory))
	}
	if s.ExposeVideos && (s.VideoDir == "" || s.VideoRoute == "") {
		errs = append(errs, errors.New("exposing videos needs both a video dir and a video route"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (s Settings) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, value))
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "10m") or a bare
// number of seconds.
func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
