// Package stage manages the staging workspace: a directory the user
// drops image files into, described by a stage.yaml manifest naming
// the record under edit. A watcher feeds new files into the record's
// collection so the engine stays the only writer of the image list.
package stage

import (
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/alexjbarnes/media-stage/internal/errors"
	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest filename expected in the stage directory.
const ManifestName = "stage.yaml"

// Manifest describes what the staging directory edits: the record key
// drafts are stored under and the extra form fields sent with every
// upload.
type Manifest struct {
	Record string            `yaml:"record"`
	Fields map[string]string `yaml:"fields"`
}

// LoadManifest reads and validates stage.yaml from dir. A missing file
// is reported as ErrNoManifest so callers can distinguish an
// uninitialized directory from a broken manifest.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNoManifest, path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if m.Record == "" {
		return nil, fmt.Errorf("%s: record is required", path)
	}

	return &m, nil
}
