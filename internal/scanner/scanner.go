// Package scanner walks filesystem trees and yields file identity tuples
// for ingestion into the metadata store.
//
// # Concurrency Model
//
// One walker goroutine is spawned per directory discovered, with a
// semaphore bounding concurrent directory reads. A single collector
// goroutine drains the fan-in channel and invokes the ingest callback, so
// the callback (a store upsert) never runs concurrently with itself — the
// store sees strictly serialized writes.
//
// Symbolic links are never followed and never reported: only regular files
// become records. Walk errors (permission denied, vanished directories) are
// logged and skipped; they do not abort the scan.
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"dupeplan/internal/progress"
	"dupeplan/internal/types"
)

// Config selects what the scanner visits and reports.
type Config struct {
	Roots   []string // root paths to scan
	MinSize int64    // minimum file size (bytes)
	MaxSize int64    // maximum file size (bytes); <= 0 means unbounded
	Prune   []string // glob patterns pruning whole subtrees, matched case-insensitively against the full path
	Exclude []string // glob patterns excluding files, matched against full path and base name
	Workers int      // max concurrent directory reads
}

// IngestFunc receives one identity tuple per matched file. It reports what
// the store did with the tuple so the scanner can summarize.
type IngestFunc func(path string, size, mtimeNS int64, inode uint64) (types.UpsertResult, error)

// Scanner discovers files matching filter criteria using parallel directory
// traversal. It is designed for single-use: create with New, call Run once.
type Scanner struct {
	cfg          Config
	showProgress bool
	log          *logrus.Entry

	walkerWg  sync.WaitGroup
	walkerSem types.Semaphore
	resultCh  chan *fileEntry
	stats     *stats
	bar       *progress.Bar
}

// fileEntry is one raw identity tuple produced by a walker.
type fileEntry struct {
	path    string
	size    int64
	mtimeNS int64
	inode   uint64
}

// New creates a Scanner.
func New(cfg Config, showProgress bool) *Scanner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scanner{
		cfg:          cfg,
		showProgress: showProgress,
		log:          logrus.WithField("component", "scanner"),
	}
}

// stats tracks scanning progress using atomic counters for lock-free
// updates from walker goroutines. Ingest counters are only touched by the
// collector but use atomics too so String() can run from the progress
// renderer.
type stats struct {
	scannedFiles atomic.Int64
	matchedFiles atomic.Int64
	scannedBytes atomic.Int64
	matchedBytes atomic.Int64
	inserted     atomic.Int64
	updated      atomic.Int64
	unchanged    atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d (%s), recorded %d files (%s): %d new, %d changed, %d unchanged in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())),
		s.inserted.Load(), s.updated.Load(), s.unchanged.Load(),
		time.Since(s.startTime).Seconds())
}

// Run executes the scan, feeding every matched file to ingest. The first
// ingest error stops ingestion; the walkers are drained and the error is
// returned.
func (s *Scanner) Run(ingest IngestFunc) error {
	s.walkerSem = types.NewSemaphore(s.cfg.Workers)
	s.bar = progress.New(s.showProgress, -1)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats)
	s.resultCh = make(chan *fileEntry, 1000) // buffer smooths producer/consumer rates

	// Collector goroutine: single consumer, serializes ingestion.
	var (
		collectorWg sync.WaitGroup
		ingestErr   error
	)
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for e := range s.resultCh {
			if ingestErr != nil {
				continue // keep draining so walkers never block
			}
			result, err := ingest(e.path, e.size, e.mtimeNS, e.inode)
			if err != nil {
				ingestErr = err
				continue
			}
			switch result {
			case types.Inserted:
				s.stats.inserted.Add(1)
			case types.Updated:
				s.stats.updated.Add(1)
			case types.Unchanged:
				s.stats.unchanged.Add(1)
			}
		}
	}()

	for _, root := range s.cfg.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			s.log.WithError(err).WithField("root", root).Warn("cannot resolve root")
			continue
		}
		s.walkDirectory(absRoot)
	}

	// Shutdown sequence: wait for producers, signal consumer, wait for consumer.
	s.walkerWg.Wait()
	close(s.resultCh)
	collectorWg.Wait()

	s.bar.Finish(s.stats)
	return ingestErr
}

// walkDirectory spawns a goroutine to process one directory and recursively
// spawn children. The semaphore is released after listing but before the
// children run, so descent is not throttled by the parent.
func (s *Scanner) walkDirectory(dir string) {
	s.walkerWg.Add(1) // increment BEFORE spawn to prevent race with Wait()
	go func() {
		defer s.walkerWg.Done()

		s.walkerSem.Acquire()
		defer s.walkerSem.Release()

		files, subdirs, err := s.listDirectory(dir)
		if err != nil {
			s.log.WithError(err).WithField("dir", dir).Warn("cannot list directory")
			return
		}

		for _, e := range files {
			s.stats.scannedFiles.Add(1)
			s.stats.scannedBytes.Add(e.size)
			if s.matches(e) {
				s.resultCh <- e // may block briefly if channel buffer full
				s.stats.matchedFiles.Add(1)
				s.stats.matchedBytes.Add(e.size)
			}
		}
		s.bar.Describe(s.stats)

		for _, sub := range subdirs {
			s.walkDirectory(sub)
		}
	}()
}

// listDirectory reads one directory in batches, splitting entries into
// regular files and non-pruned subdirectories. Everything else (symlinks,
// devices, sockets) is skipped.
func (s *Scanner) listDirectory(dirPath string) (files []*fileEntry, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	// Batched ReadDir bounds memory when listing huge directories.
	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}
		for _, entry := range entries {
			fullPath := filepath.Join(dirPath, entry.Name())
			if entry.IsDir() {
				if !s.pruned(fullPath) {
					subdirs = append(subdirs, fullPath)
				}
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue // vanished or unreadable between listing and stat
			}
			files = append(files, newFileEntry(fullPath, info))
		}
	}
	return files, subdirs, nil
}

// matches applies size bounds and prune/exclude patterns to a file.
func (s *Scanner) matches(e *fileEntry) bool {
	if e.size < s.cfg.MinSize {
		return false
	}
	if s.cfg.MaxSize > 0 && e.size > s.cfg.MaxSize {
		return false
	}
	if s.pruned(e.path) {
		return false
	}
	return !s.excluded(e.path)
}

// pruned checks the prune patterns against the full path, case-insensitively.
func (s *Scanner) pruned(path string) bool {
	if len(s.cfg.Prune) == 0 {
		return false
	}
	lower := strings.ToLower(path)
	for _, pattern := range s.cfg.Prune {
		if matched, _ := filepath.Match(strings.ToLower(pattern), lower); matched {
			return true
		}
	}
	return false
}

// excluded checks the exclude patterns against the full path and base name.
func (s *Scanner) excluded(path string) bool {
	if len(s.cfg.Exclude) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.cfg.Exclude {
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
