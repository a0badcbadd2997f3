// Package archive is the Store consumer: a terminal pipeline stage
// that writes arriving records into a time-partitioned directory tree
// rooted at one area per job, with an optional mirror of completed
// files to an S3-compatible datalake bucket.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oriys/skysweep/internal/logging"
)

// Rollover selects the file-naming granularity: hourly
// ("YYYYMMDD-HH0000[.ext]") or daily ("YYYYMMDD-000000[.ext]").
type Rollover int

const (
	RolloverHourly Rollover = iota
	RolloverDaily
)

// Mirror uploads a completed (rolled-over or closed) file to a remote
// datalake. internal/archive/s3mirror.go implements this against
// aws-sdk-go-v2's S3 client; tests substitute a fake.
type Mirror interface {
	Upload(area string, jobID uint64, relPath string, data []byte) error
}

// Store is the terminal archive consumer: it creates
// "<area>/<job-id>/" and, on Unix, a symlink "<area>/current" pointing
// at it, then appends every record written to it into a file named by
// the current time bucket, rolling over to a new file when the bucket
// changes.
type Store struct {
	area   string
	jobID  uint64
	roll   Rollover
	ext    string
	dir    string
	mirror Mirror

	mu      sync.Mutex
	curKey  string
	curFile *os.File
	curPath string

	now func() time.Time
}

// New creates "<area>/<job-id>/" (and a "current" symlink on Unix) and
// returns a Store ready to accept Write calls. ext, if non-empty,
// should include the leading dot (e.g. ".csv").
func New(area string, jobID uint64, roll Rollover, ext string, mirror Mirror) (*Store, error) {
	dir := filepath.Join(area, fmt.Sprintf("%d", jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create job dir: %w", err)
	}

	currentLink := filepath.Join(area, "current")
	_ = os.Remove(currentLink)
	if err := os.Symlink(dir, currentLink); err != nil {
		// Symlinks aren't available on every platform/filesystem, so a
		// failure here is a warning, not fatal.
		logging.Op().Warn("archive: could not create current symlink", "area", area, "error", err)
	}

	return &Store{
		area:   area,
		jobID:  jobID,
		roll:   roll,
		ext:    ext,
		dir:    dir,
		mirror: mirror,
		now:    time.Now,
	}, nil
}

// Dir returns the job's output directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) bucketKey(t time.Time) string {
	switch s.roll {
	case RolloverDaily:
		return t.UTC().Format("20060102") + "-000000"
	default:
		return t.UTC().Format("20060102-15") + "0000"
	}
}

// Write appends data to the file for the current time bucket,
// opening (or rolling over to) a new file when the bucket changes.
// Writes append; rollover is time-triggered per arriving record.
func (s *Store) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.bucketKey(s.now())
	if key != s.curKey {
		if err := s.rolloverLocked(key); err != nil {
			return err
		}
	}

	if _, err := s.curFile.Write(data); err != nil {
		return fmt.Errorf("archive: write %s: %w", s.curPath, err)
	}
	return nil
}

func (s *Store) rolloverLocked(key string) error {
	if s.curFile != nil {
		if err := s.closeCurrentLocked(); err != nil {
			logging.Op().Warn("archive: close previous file before rollover", "path", s.curPath, "error", err)
		}
	}

	name := key + s.ext
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", path, err)
	}
	s.curFile = f
	s.curPath = path
	s.curKey = key
	return nil
}

// closeCurrentLocked closes the active file and, if a mirror is
// configured, uploads its full contents, passing the area, the job id
// and the file's path relative to the job directory (its bare file
// name). Mirror failures are logged, not fatal; the local
// file is the durable record.
func (s *Store) closeCurrentLocked() error {
	path := s.curPath
	if err := s.curFile.Close(); err != nil {
		return err
	}
	if s.mirror != nil {
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Op().Warn("archive: read file for mirror upload", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		if err := s.mirror.Upload(s.area, s.jobID, rel, data); err != nil {
			logging.Op().Warn("archive: mirror upload failed", "path", path, "error", err)
		}
	}
	return nil
}

// Close flushes and closes the currently open file, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curFile == nil {
		return nil
	}
	return s.closeCurrentLocked()
}

// Sink adapts Store to a pipeline.ConsumerTask's Sink func signature.
func (s *Store) Sink(rec []byte) error {
	return s.Write(rec)
}
