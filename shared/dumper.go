package shared

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Functions

// StartDumper writes a snapshot of all shared objects to
// path right away and then periodically until ctx is done
// or the manager is shut down.
func (m *Manager) StartDumper(ctx context.Context, path string) {

	ctx, cancel := context.WithCancel(ctx)

	m.dumperLock.Lock()
	m.dumperCancel = append(m.dumperCancel, cancel)
	m.dumperWG.Add(1)
	m.dumperLock.Unlock()

	go m.runDumper(ctx, path, m.conf.DumpInterval)
}

func (m *Manager) runDumper(ctx context.Context, path string, interval time.Duration) {

	defer m.dumperWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	level.Info(m.logger).Log("msg", "started shared object dumper", "file", path, "interval", interval)

	for {

		if err := m.DumpToFile(path); err != nil {
			level.Error(m.logger).Log(
				"msg", "failed to dump shared objects",
				"file", path,
				"err", err,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
		}
	}
}

// DumpToFile writes DumpSharedObjects to a temporary file
// next to path and renames it to path afterwards, so that
// readers never see a partial snapshot.
func (m *Manager) DumpToFile(path string) error {

	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, (os.O_CREATE | os.O_WRONLY | os.O_TRUNC), 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open temporary dump file")
	}

	w := bufio.NewWriter(f)

	if err := m.DumpSharedObjects(w); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write dump")
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to flush dump")
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary dump file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "failed to move dump into place")
	}

	return nil
}
