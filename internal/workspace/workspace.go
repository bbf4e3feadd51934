// Package workspace allocates the per-request scratch directory that holds
// uploaded videos and everything the tracking pipeline writes.
//
// Each workspace root is named with a random UUID and created with a
// non-recursive mkdir, so two in-flight requests can never share a root.
// Callers must defer Release on every path once Acquire succeeds.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Subdirectory names inside a workspace root.
const (
	InputDirName  = "input_videos"
	FramesDirName = "output_frames"
	JSONDirName   = "output_jsons"
)

const rootPrefix = "cowbook-"

// Workspace is one request's isolated filesystem scope.
type Workspace struct {
	Root      string
	InputDir  string
	FramesDir string
	JSONDir   string

	releaseOnce sync.Once
	releaseErr  error
}

// Acquire creates a uniquely named root under baseDir plus the three
// subareas. An empty baseDir means os.TempDir(). Any partially created
// tree is removed before returning an error.
func Acquire(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base %s: %w", baseDir, err)
	}

	root := filepath.Join(baseDir, rootPrefix+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	ws := &Workspace{
		Root:      root,
		InputDir:  filepath.Join(root, InputDirName),
		FramesDir: filepath.Join(root, FramesDirName),
		JSONDir:   filepath.Join(root, JSONDirName),
	}
	for _, dir := range []string{ws.InputDir, ws.FramesDir, ws.JSONDir} {
		if err := os.Mkdir(dir, 0o700); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace subarea %s: %w", filepath.Base(dir), err)
		}
	}

	log.Debug().Str("root", root).Msg("Workspace acquired")
	return ws, nil
}

// Release recursively removes the workspace root. It is safe to call more
// than once; only the first call touches the filesystem.
func (w *Workspace) Release() error {
	w.releaseOnce.Do(func() {
		if err := os.RemoveAll(w.Root); err != nil {
			w.releaseErr = fmt.Errorf("remove workspace %s: %w", w.Root, err)
			return
		}
		log.Debug().Str("root", w.Root).Msg("Workspace released")
	})
	return w.releaseErr
}
