// Package spool keeps delivery tasks that were still pending at shutdown
// so the next run can resume them.
//
// The file is a sequence of length-prefixed msgpack records. It is
// rewritten atomically on Save and removed once drained.
package spool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pithecene-io/gatehouse/iox"
	"github.com/pithecene-io/gatehouse/types"
)

// FormatVersion is written into every record.
const FormatVersion = 1

type record struct {
	Version int                `msgpack:"v"`
	Task    types.DeliveryTask `msgpack:"task"`
}

// Spool is a file-backed task spool. Not safe for concurrent use.
type Spool struct {
	path string
}

// New returns a spool at path. The file need not exist.
func New(path string) *Spool {
	return &Spool{path: path}
}

// Path returns the spool file path.
func (s *Spool) Path() string {
	return s.path
}

// Save replaces the spool contents with tasks. An empty slice removes the file.
func (s *Spool) Save(tasks []types.DeliveryTask) error {
	if len(tasks) == 0 {
		return s.remove()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	for _, task := range tasks {
		if err := writeFrame(w, record{Version: FormatVersion, Task: task}); err != nil {
			iox.DiscardClose(tmp)
			return fmt.Errorf("write task %s: %w", task.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("flush spool: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("sync spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close spool: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads all spooled tasks. A missing file yields no tasks. A
// truncated tail is reported alongside the tasks read before it.
func (s *Spool) Load() ([]types.DeliveryTask, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer iox.DiscardClose(f)

	r := bufio.NewReader(f)
	var tasks []types.DeliveryTask
	for {
		var rec record
		err := readFrame(r, &rec)
		if errors.Is(err, io.EOF) {
			return tasks, nil
		}
		if err != nil {
			return tasks, err
		}
		if rec.Version != FormatVersion {
			return tasks, fmt.Errorf("unsupported spool version %d", rec.Version)
		}
		tasks = append(tasks, rec.Task)
	}
}

// Drain loads the spool and removes it. The file is kept if it could
// not be read at all.
func (s *Spool) Drain() ([]types.DeliveryTask, error) {
	tasks, loadErr := s.Load()
	if loadErr != nil && len(tasks) == 0 && !IsFrameError(loadErr) {
		return nil, loadErr
	}
	if err := s.remove(); err != nil {
		return tasks, errors.Join(loadErr, err)
	}
	return tasks, loadErr
}

func (s *Spool) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove spool: %w", err)
	}
	return nil
}
