// Package results reads the JSON artifacts a tracking run leaves in its
// output folder and turns them into response entries.
//
// Artifacts are classified by filename only: a name containing "merged" is
// the cross-camera result, otherwise "cam_<digits>" in the name carries the
// camera identifier.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var camPattern = regexp.MustCompile(`cam_(\d+)`)

// Entry is one pipeline artifact in the response.
type Entry struct {
	Filename         string          `json:"filename"`
	IsMerged         bool            `json:"is_merged"`
	CamID            *int            `json:"cam_id"`
	TrackingVideoURL *string         `json:"tracking_video_url,omitempty"`
	Data             json.RawMessage `json:"data"`
}

// ParseError reports an artifact that is not valid JSON.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse result %s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Aggregator builds entries from an output folder.
type Aggregator struct {
	// VideoRoute is the URL prefix tracking videos are served under.
	// Empty disables tracking video URLs.
	VideoRoute string
}

// Classify reports whether filename is a merged artifact and, when it is
// not, the camera identifier embedded in it. An identifier too large for an
// int is logged and reported as nil.
func Classify(filename string) (merged bool, camID *int) {
	if strings.Contains(filename, "merged") {
		return true, nil
	}
	m := camPattern.FindStringSubmatch(filename)
	if m == nil {
		return false, nil
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("Camera id out of range, reporting no camera")
		return false, nil
	}
	return false, &id
}

// VideoURL returns the tracking video URL for a JSON artifact:
// the .json suffix becomes .avi under route.
func VideoURL(route, filename string) string {
	name := strings.TrimSuffix(filename, ".json") + ".avi"
	return path.Join("/", route, name)
}

// Aggregate reads every *.json file directly inside dir, sorted by name.
// Hidden files (leading ".") are skipped.
// Any file that is not valid JSON aborts aggregation with a *ParseError.
// withVideos adds tracking video URLs when a VideoRoute is configured.
func (a *Aggregator) Aggregate(dir string, withVideos bool) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read result %s: %w", name, err)
		}
		if !json.Valid(data) {
			var v any
			err := json.Unmarshal(data, &v)
			if err == nil {
				err = fmt.Errorf("invalid JSON")
			}
			return nil, &ParseError{Filename: name, Err: err}
		}

		merged, camID := Classify(name)
		entry := Entry{
			Filename: name,
			IsMerged: merged,
			CamID:    camID,
			Data:     json.RawMessage(data),
		}
		if withVideos && a.VideoRoute != "" {
			url := VideoURL(a.VideoRoute, name)
			entry.TrackingVideoURL = &url
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
