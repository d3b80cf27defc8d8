package freeze

import (
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/embshell/errors"
)

// WriteFile writes an encoded artifact to path.
func WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseArtifact, errors.KindArtifact, err, "cannot write artifact "+path)
	}
	Logger().Debug("artifact written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// ReadFile reads and thaws the artifact at path. A missing or unreadable
// file is an artifact fault.
func ReadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArtifact, errors.KindArtifact, err, "cannot read artifact "+path)
	}
	a, err := Thaw(data)
	if err != nil {
		return nil, err
	}
	Logger().Debug("artifact read",
		zap.String("path", path),
		zap.String("backend", a.Manifest.Backend),
		zap.Strings("imports", a.Manifest.Imports))
	return a, nil
}
