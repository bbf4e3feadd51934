// Package upload writes uploaded camera videos into a workspace and builds
// the video group descriptor the tracking pipeline consumes.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Upload is one client-supplied video stream.
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// FromReader wraps an in-memory or already-open stream as an Upload.
func FromReader(filename string, r io.Reader) Upload {
	return Upload{
		Filename: filename,
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

// Member is one materialized video in a group.
type Member struct {
	Path     string `json:"path"`
	CameraID int    `json:"camera_nr"`
}

// Group is the ordered set of videos submitted together for one run.
type Group []Member

// CameraIDs lists the camera identifier of every member, in order.
func (g Group) CameraIDs() []int {
	ids := make([]int, len(g))
	for i, m := range g {
		ids[i] = m.CameraID
	}
	return ids
}

// Error identifies the upload that could not be written.
type Error struct {
	Index    int
	Filename string
	CameraID int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("save upload #%d (%s) as camera %d: %v", e.Index, e.Filename, e.CameraID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// VideoFilename is the file name a camera's video is stored under.
func VideoFilename(cameraID int) string {
	return fmt.Sprintf("cam_%d.mp4", cameraID)
}

// Materialize stream-copies uploads[i] to dir/cam_<ids[i]>.mp4, pairing
// uploads and identifiers positionally and stopping at the shorter of the
// two. Every written upload gets its own member, in upload order. A later
// upload for an identifier already written overwrites the file, so both
// members then point at the later video. The first failure aborts with an
// *Error; partial files are left for the workspace to remove.
func Materialize(ctx context.Context, dir string, uploads []Upload, ids []int) (Group, error) {
	n := min(len(uploads), len(ids))
	group := make(Group, 0, n)
	written := make(map[int]bool, n)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Index: i, Filename: uploads[i].Filename, CameraID: ids[i], Err: err}
		}

		dest := filepath.Join(dir, VideoFilename(ids[i]))
		size, err := copyTo(dest, uploads[i])
		if err != nil {
			return nil, &Error{Index: i, Filename: uploads[i].Filename, CameraID: ids[i], Err: err}
		}

		log.Debug().
			Int("index", i).
			Str("filename", uploads[i].Filename).
			Int("cameraId", ids[i]).
			Int64("bytes", size).
			Str("path", dest).
			Msg("Upload saved")

		if written[ids[i]] {
			log.Warn().
				Int("cameraId", ids[i]).
				Int("index", i).
				Msg("Camera uploaded twice, file overwritten by the later video")
		}
		written[ids[i]] = true
		group = append(group, Member{Path: dest, CameraID: ids[i]})
	}

	return group, nil
}

func copyTo(dest string, u Upload) (int64, error) {
	if u.Open == nil {
		return 0, fmt.Errorf("upload has no content")
	}
	src, err := u.Open()
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}

	written, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		return written, fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", filepath.Base(dest), err)
	}
	return written, nil
}
