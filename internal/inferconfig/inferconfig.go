// Package inferconfig reads the inference element's key=value config file
// for the handful of keys the annotation stage depends on.
package inferconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/squeakview/internal/fsutil"
)

// Recognised keys.
const (
	KeyParser         = "parse-bbox-func-name"
	KeyInferDims      = "infer-dims"
	KeyLabelFile      = "labelfile-path"
	KeyKeypointLabels = "pose-kpt-labels-path"
	KeyDrawThreshold  = "pose-draw-threshold"
	KeyCustomLib      = "custom-lib-path"
)

// Config is the parsed subset of an inference config file. Path values are
// resolved against the config file's directory.
type Config struct {
	Path   string
	Values map[string]string

	fs fsutil.FileSystem
}

// Load reads path. A missing or unreadable file is not an error: the result
// is an empty Config, which selects non-pose mode with default dimensions.
func Load(fsys fsutil.FileSystem, path string) (*Config, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	c := &Config{Path: path, Values: map[string]string{}, fs: fsys}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return c, nil
	}
	if err := c.parse(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Parse reads config text that did not come from a file.
func Parse(data []byte) (*Config, error) {
	c := &Config{Values: map[string]string{}, fs: fsutil.OSFileSystem{}}
	if err := c.parse(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parse(data []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, seen := c.Values[key]; seen {
			continue
		}
		c.Values[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return sc.Err()
}

// Get returns the raw value for key.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Parser returns the bounding box parser function name.
func (c *Config) Parser() string { return c.Values[KeyParser] }

// PoseMode reports whether the configured parser is a pose parser.
func (c *Config) PoseMode() bool {
	return strings.Contains(strings.ToLower(c.Parser()), "pose")
}

// NetDims returns the network input width and height from infer-dims
// (c;h;w), or the defaults when the key is missing or malformed.
func (c *Config) NetDims(defaultW, defaultH float64) (float64, float64) {
	raw, ok := c.Values[KeyInferDims]
	if !ok {
		return defaultW, defaultH
	}
	parts := strings.Split(raw, ";")
	if len(parts) < 3 {
		return defaultW, defaultH
	}
	h, errH := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-2]), 64)
	w, errW := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-1]), 64)
	if errH != nil || errW != nil || w <= 0 || h <= 0 {
		return defaultW, defaultH
	}
	return w, h
}

// DrawThreshold returns the minimum keypoint score to draw, 0 by default.
func (c *Config) DrawThreshold() float64 {
	v, err := strconv.ParseFloat(c.Values[KeyDrawThreshold], 64)
	if err != nil {
		return 0
	}
	return v
}

// CustomLibPath returns the parser library path, or "".
func (c *Config) CustomLibPath() string { return c.resolve(c.Values[KeyCustomLib]) }

// KeypointLabels returns the keypoint names from pose-kpt-labels-path,
// falling back to labelfile-path. Blank lines are dropped. A missing file
// yields nil.
func (c *Config) KeypointLabels() []string {
	p := c.Values[KeyKeypointLabels]
	if p == "" {
		p = c.Values[KeyLabelFile]
	}
	if p == "" {
		return nil
	}
	data, err := c.fs.ReadFile(c.resolve(p))
	if err != nil {
		return nil
	}
	var names []string
	for _, ln := range strings.Split(string(data), "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			names = append(names, ln)
		}
	}
	return names
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.Path), p)
}
