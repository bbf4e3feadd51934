// Package runconfig builds the option mapping handed to the tracking
// pipeline for a single run.
//
// A Base is loaded once per process and never changes afterwards. Compose
// deep-copies the base and overlays the per-request values, so concurrent
// requests can share one Base without coordination.
package runconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Keys overlaid by Compose on every run.
const (
	KeyModelPath             = "model_path"
	KeyOutputJSONFolder      = "output_json_folder"
	KeyOutputImageFolder     = "output_image_folder"
	KeySaveTrackingVideo     = "save_tracking_video"
	KeyCreateProjectionVideo = "create_projection_video"

	// KeyOutputVideoFolder is set in the base only when the deployment
	// exposes tracking videos.
	KeyOutputVideoFolder = "output_video_folder"
)

// Base is the process-wide configuration. The zero value is an empty base.
type Base struct {
	values map[string]any
}

// NewBase copies values into a new Base.
func NewBase(values map[string]any) Base {
	return Base{values: copyMap(values)}
}

// Parse decodes a JSON object into a Base.
func Parse(data []byte) (Base, error) {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return Base{}, fmt.Errorf("parse base configuration: %w", err)
	}
	if values == nil {
		return Base{}, fmt.Errorf("parse base configuration: expected a JSON object")
	}
	return Base{values: values}, nil
}

// LoadFile reads a Base from a JSON file.
func LoadFile(path string) (Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Base{}, fmt.Errorf("read base configuration: %w", err)
	}
	return Parse(data)
}

// With returns a copy of b with key set to value. b is unchanged.
func (b Base) With(key string, value any) Base {
	values := copyMap(b.values)
	values[key] = copyValue(value)
	return Base{values: values}
}

// Len reports how many options the base holds.
func (b Base) Len() int { return len(b.values) }

// Map returns a deep copy of the base options.
func (b Base) Map() map[string]any { return copyMap(b.values) }

// Overrides are the values every run sets on top of the base.
type Overrides struct {
	ModelPath             string
	OutputJSONFolder      string
	OutputImageFolder     string
	SaveTrackingVideo     bool
	CreateProjectionVideo bool
}

// RunConfiguration is the immutable result of Compose.
type RunConfiguration struct {
	values map[string]any
}

// Compose copies base and applies overrides. Override keys always win.
func Compose(base Base, o Overrides) RunConfiguration {
	values := copyMap(base.values)
	values[KeyModelPath] = o.ModelPath
	values[KeyOutputJSONFolder] = o.OutputJSONFolder
	values[KeyOutputImageFolder] = o.OutputImageFolder
	values[KeySaveTrackingVideo] = o.SaveTrackingVideo
	values[KeyCreateProjectionVideo] = o.CreateProjectionVideo
	return RunConfiguration{values: values}
}

// Get returns a copy of the option stored under key.
func (c RunConfiguration) Get(key string) (any, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// String returns the string option stored under key, or "".
func (c RunConfiguration) String(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// Bool returns the boolean option stored under key, or false.
func (c RunConfiguration) Bool(key string) bool {
	b, _ := c.values[key].(bool)
	return b
}

// Map returns a deep copy of every option.
func (c RunConfiguration) Map() map[string]any { return copyMap(c.values) }

func (c RunConfiguration) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

// ParseToggle interprets a form value as a boolean: only a case-insensitive
// "true" is true. Anything else, including "1" and "yes", is false.
func ParseToggle(s string) bool {
	return strings.EqualFold(s, "true")
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
