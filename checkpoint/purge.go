package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/fsio"
	"github.com/dcshock/texpipe/pipeline"
)

// PurgeResult lists what a purge removed, as paths relative to the checkpoint root.
type PurgeResult = fsio.SweepResult

// PurgeUnrecognizedFiles deletes every file under dir whose checkpoint was not
// observed by this manager, then every directory left empty, except the root.
// dir may be absolute or relative to the root; "" means the root. It must lie
// inside the root.
//
// Run it only after the full pipeline has run with this manager: anything the
// run did not touch is treated as stale.
func (m *Manager) PurgeUnrecognizedFiles(dir string) (PurgeResult, error) {
	start := m.root
	if dir != "" {
		start = dir
		if !filepath.IsAbs(start) {
			start = filepath.Join(m.root, start)
		}
		start = filepath.Clean(start)
	}
	if !fsio.Within(m.root, start) {
		return PurgeResult{}, pipeline.ConfigErrorf("purge %s: outside checkpoint root %s", dir, m.root)
	}
	info, err := os.Stat(start)
	if err != nil {
		if os.IsNotExist(err) {
			return PurgeResult{}, nil
		}
		return PurgeResult{}, fmt.Errorf("purge %s: %w", start, err)
	}
	if !info.IsDir() {
		return PurgeResult{}, pipeline.ConfigErrorf("purge %s: not a directory", start)
	}
	res, err := fsio.Sweep(m.root, start, m.Observed, m.log)
	m.log.Info("checkpoint purge finished",
		zap.String("dir", start),
		zap.Int("files_removed", len(res.Files)),
		zap.Int("dirs_removed", len(res.Dirs)),
		zap.Int("observed", m.ObservedCount()))
	return res, err
}
