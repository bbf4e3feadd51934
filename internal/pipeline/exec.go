package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/runconfig"
	"github.com/cowbook/cowbook-api/internal/upload"
)

// RequestFilename is the manifest Exec writes into Request.WorkDir.
const RequestFilename = "run_request.json"

// stderrTailLines is how many trailing stderr lines are kept for errors.
const stderrTailLines = 20

// Environment variables set for the pipeline process, for wrappers that
// prefer them over parsing the manifest.
const (
	EnvRequest           = "COWBOOK_REQUEST"
	EnvOutputJSONFolder  = "COWBOOK_OUTPUT_JSON_FOLDER"
	EnvOutputImageFolder = "COWBOOK_OUTPUT_IMAGE_FOLDER"
)

// manifest mirrors the keyword arguments of the tracker's group entry point.
type manifest struct {
	GroupIdx          int                        `json:"group_idx"`
	VideoGroup        upload.Group               `json:"video_group"`
	ModelRef          string                     `json:"model_ref"`
	Config            runconfig.RunConfiguration `json:"config"`
	OutputJSONFolder  string                     `json:"output_json_folder"`
	OutputImageFolder string                     `json:"output_image_folder"`
}

// Exec runs the tracker as a subprocess: `<Path> <Args...> --request <manifest>`.
type Exec struct {
	Path string
	Args []string

	// Dir is the working directory of the process; empty means the current one.
	Dir string
}

var _ Invoker = (*Exec)(nil)

// NewExec splits a command line on whitespace and resolves the program in PATH.
func NewExec(commandLine string) (*Exec, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("pipeline command is empty")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("pipeline program %q not found: %w", fields[0], err)
	}
	return &Exec{Path: path, Args: fields[1:]}, nil
}

// Run writes the request manifest and executes the pipeline. A non-zero exit
// returns an error carrying the tail of stderr. Cancelling ctx kills the process.
func (e *Exec) Run(ctx context.Context, req Request) error {
	if req.WorkDir == "" {
		return fmt.Errorf("pipeline request has no work dir")
	}

	manifestPath := filepath.Join(req.WorkDir, RequestFilename)
	if err := writeManifest(manifestPath, req); err != nil {
		return err
	}

	args := append(append([]string{}, e.Args...), "--request", manifestPath)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(),
		EnvRequest+"="+manifestPath,
		EnvOutputJSONFolder+"="+req.JSONDir,
		EnvOutputImageFolder+"="+req.ImageDir,
	)
	cmd.WaitDelay = 5 * time.Second

	stdout := newLineLogger("stdout", zerolog.DebugLevel, 0)
	stderr := newLineLogger("stderr", zerolog.DebugLevel, stderrTailLines)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Debug().
		Str("path", e.Path).
		Strs("args", args).
		Int("cameras", len(req.Group)).
		Msg("Starting tracking pipeline")

	start := time.Now()
	err := cmd.Run()
	stdout.flush()
	stderr.flush()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("pipeline interrupted after %s: %w", time.Since(start).Round(time.Millisecond), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.tail()}
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	log.Debug().Dur("elapsed", time.Since(start)).Msg("Tracking pipeline finished")
	return nil
}

// ExitError reports a pipeline process that exited unsuccessfully.
type ExitError struct {
	Code   int
	Stderr []string
}

func (e *ExitError) Error() string {
	if len(e.Stderr) == 0 {
		return fmt.Sprintf("pipeline exited with code %d", e.Code)
	}
	return fmt.Sprintf("pipeline exited with code %d: %s", e.Code, strings.Join(e.Stderr, "\n"))
}

func writeManifest(path string, req Request) error {
	group := req.Group
	if group == nil {
		group = upload.Group{}
	}
	data, err := json.Marshal(manifest{
		GroupIdx:          req.GroupIndex,
		VideoGroup:        group,
		ModelRef:          req.ModelRef,
		Config:            req.Config,
		OutputJSONFolder:  req.JSONDir,
		OutputImageFolder: req.ImageDir,
	})
	if err != nil {
		return fmt.Errorf("encode pipeline request: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write pipeline request: %w", err)
	}
	return nil
}

// lineLogger forwards process output to the logger one line at a time and
// optionally remembers the last few lines.
type lineLogger struct {
	mu     sync.Mutex
	stream string
	level  zerolog.Level
	keep   int
	buf    bytes.Buffer
	lines  []string
}

func newLineLogger(stream string, level zerolog.Level, keep int) *lineLogger {
	return &lineLogger{stream: stream, level: level, keep: keep}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(l.buf.Next(i + 1))
		l.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(strings.TrimRight(l.buf.String(), "\r\n"))
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line string) {
	if line == "" {
		return
	}
	log.WithLevel(l.level).Str("stream", l.stream).Msg(line)
	if l.keep == 0 {
		return
	}
	l.lines = append(l.lines, line)
	if len(l.lines) > l.keep {
		l.lines = l.lines[len(l.lines)-l.keep:]
	}
}

func (l *lineLogger) tail() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
