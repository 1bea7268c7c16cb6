package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wachiwi/picam/pkg/frame"
)

// CatalogName is the file name of the catalog inside the snapshot directory.
const CatalogName = "snapshots.json"

// Saver writes captured frames to a directory as capture_<unix seconds>.jpg.
type Saver struct {
	dir       string
	retention time.Duration
	store     *Store
}

// NewSaver stores snapshots in dir. Snapshots older than retention are
// deleted whenever a new one is saved; zero keeps them forever.
func NewSaver(dir string, retention time.Duration) *Saver {
	return &Saver{
		dir:       dir,
		retention: retention,
		store:     NewStore(filepath.Join(dir, CatalogName)),
	}
}

// Save writes f and returns the file name. A frame that was saved before is
// not written again; the name of the earlier file is returned.
func (s *Saver) Save(f *frame.Frame) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if name, ok := s.saved(f.Seq); ok {
		slog.Debug("Snapshot already saved", "name", name, "seq", f.Seq)
		return name, nil
	}

	ts := f.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	name, err := s.write(ts, f)
	if err != nil {
		return "", err
	}

	expired, err := s.store.Add(Record{
		Name:      name,
		Seq:       f.Seq,
		Size:      len(f.Data),
		Timestamp: ts,
	}, s.retention)
	if err != nil {
		return name, fmt.Errorf("failed to update snapshot catalog: %w", err)
	}

	for _, r := range expired {
		if err := os.Remove(filepath.Join(s.dir, r.Name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove expired snapshot", "name", r.Name, "error", err)
		}
	}

	slog.Info("Snapshot saved", "name", name, "seq", f.Seq, "size", len(f.Data), "expired", len(expired))
	return name, nil
}

// saved looks up the file of an earlier save of the frame with seq.
func (s *Saver) saved(seq uint64) (string, bool) {
	if seq == 0 {
		return "", false
	}
	records, err := s.store.Records()
	if err != nil {
		return "", false
	}
	for _, r := range records {
		if r.Seq != seq {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, r.Name)); err == nil {
			return r.Name, true
		}
	}
	return "", false
}

// write creates a new file for f. Names taken by earlier snapshots in the same
// second get the sequence number and then a counter appended.
func (s *Saver) write(ts time.Time, f *frame.Frame) (string, error) {
	base := fmt.Sprintf("capture_%d", ts.Unix())
	for i := 0; ; i++ {
		var name string
		switch i {
		case 0:
			name = base + ".jpg"
		case 1:
			name = fmt.Sprintf("%s_%d.jpg", base, f.Seq)
		default:
			name = fmt.Sprintf("%s_%d_%d.jpg", base, f.Seq, i-1)
		}

		file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create snapshot: %w", err)
		}
		_, err = file.Write(f.Data)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(file.Name())
			return "", fmt.Errorf("failed to write snapshot: %w", err)
		}
		return name, nil
	}
}

// Records lists the saved snapshots, oldest first.
func (s *Saver) Records() ([]Record, error) {
	return s.store.Records()
}

// Path returns the full path of a saved snapshot. It rejects names that
// would leave the snapshot directory.
func (s *Saver) Path(name string) (string, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}
