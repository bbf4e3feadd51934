// Package api exposes the tracking service over HTTP:
//
//	POST /            multipart upload of videos + indices, runs tracking
//	GET  /health      liveness
//	GET  /runs/{id}   stored run summary (when a run store is configured)
//	GET  <route>/...  tracking videos (when video serving is enabled)
package api

import (
	"context"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/cowbook/cowbook-api/internal/store"
	"github.com/cowbook/cowbook-api/internal/tracking"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "cowbook-api"

// DefaultMaxUploadMemory is the multipart memory threshold used when
// Options.MaxUploadMemory is zero. Larger parts spill to temp files.
const DefaultMaxUploadMemory = 32 << 20

// Tracker runs one tracking request.
type Tracker interface {
	Process(ctx context.Context, req tracking.Request) (*tracking.Response, error)
}

// Options configure a Server.
type Options struct {
	Tracker         Tracker
	Runs            store.RunStore
	AllowedOrigins  []string
	MaxUploadMemory int64

	// VideoDir is served read-only under VideoRoute when both are set.
	VideoDir   string
	VideoRoute string

	Metrics bool
}

// Server holds the routing table and the read-only state shared by
// handlers. Everything is fixed at construction.
type Server struct {
	tracker    Tracker
	runs       store.RunStore
	origins    map[string]struct{}
	maxMemory  int64
	videoDir   string
	videoRoute string
	metrics    bool
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		tracker:   opts.Tracker,
		runs:      opts.Runs,
		origins:   make(map[string]struct{}, len(opts.AllowedOrigins)),
		maxMemory: opts.MaxUploadMemory,
		videoDir:  opts.VideoDir,
		metrics:   opts.Metrics,
	}
	for _, o := range opts.AllowedOrigins {
		s.origins[o] = struct{}{}
	}
	if s.maxMemory <= 0 {
		s.maxMemory = DefaultMaxUploadMemory
	}
	if opts.VideoDir != "" && opts.VideoRoute != "" {
		s.videoRoute = strings.TrimSuffix(path.Join("/", opts.VideoRoute), "/")
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleTrack)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.runs != nil {
		mux.HandleFunc("GET /runs/{id}", s.handleRun)
	}
	if s.videoRoute != "" {
		files := http.FileServer(noListingFS{http.Dir(s.videoDir)})
		mux.Handle("GET "+s.videoRoute+"/", http.StripPrefix(s.videoRoute, files))
	}

	var h http.Handler = mux
	if s.metrics {
		h = s.withMetrics(h)
	}
	return s.withLogging(s.withCORS(h))
}

// noListingFS hides directories so the file server never renders a
// listing; directory requests get 404.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
