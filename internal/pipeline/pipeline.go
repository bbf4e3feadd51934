// Package pipeline is the boundary to the external multi-camera tracking
// pipeline. The orchestration layer only knows the synchronous contract
// below: the pipeline receives a video group and a run configuration and
// writes zero or more JSON result files into the JSON output folder.
package pipeline

import (
	"context"

	"github.com/cowbook/cowbook-api/internal/runconfig"
	"github.com/cowbook/cowbook-api/internal/upload"
)

// Request carries everything one tracking run needs.
type Request struct {
	GroupIndex int
	Group      upload.Group
	ModelRef   string
	Config     runconfig.RunConfiguration
	JSONDir    string
	ImageDir   string

	// WorkDir is scratch space owned by the run (the workspace root).
	WorkDir string
}

// Invoker runs the tracking pipeline and blocks until it finishes.
type Invoker interface {
	Run(ctx context.Context, req Request) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) error

func (f InvokerFunc) Run(ctx context.Context, req Request) error {
	return f(ctx, req)
}
