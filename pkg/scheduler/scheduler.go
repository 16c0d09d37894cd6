// Package scheduler implements the Download Scheduler: a bounded worker
// pool of up to P concurrent package transfers sharing one HTTP client,
// grounded on the parallel-upload-with-semaphore shape found across the
// retrieval pack (errgroup.WithContext + semaphore.Weighted, one Acquire/
// Release per task, g.Wait() to drain) — generalized from uploads to
// streaming decrypt-free package downloads.
//
// The sequential path (§9 "concurrent downloads... the sequential path is
// a degenerate case with P=1") is not a separate code path: it's this
// same Scheduler constructed with a concurrency of 1.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/cacheio"
	"github.com/lanternkey/astool/pkg/httpapi"
)

const chunkSize = 64 * 1024

// Split is one metapackage member: an exact byte range within the
// metapackage's response body.
type Split struct {
	Name   string
	Offset int64
	Size   int64
}

// LeafTask is a single, independently-downloadable package.
type LeafTask struct {
	PackName string
	FileSize int64
}

// MetaTask demuxes one metapackage response body into its member splits,
// which must already be sorted ascending by offset and non-overlapping.
type MetaTask struct {
	MetapackName string
	Splits       []Split
}

// WorkItem pairs exactly one of (Leaf, Meta) with the signed URL the
// session engine minted for it.
type WorkItem struct {
	Leaf *LeafTask
	Meta *MetaTask
	URL  string
}

// PackPresence is the one piece of shared mutable state workers touch:
// the in-memory set of packages known to be present after this run.
// Insertions are serialized through a mutex, per the concurrency model's
// "the set is the only shared mutable state in this phase."
type PackPresence struct {
	mu  sync.Mutex
	set map[string]struct{}
}

// NewPackPresence builds an empty presence set.
func NewPackPresence() *PackPresence {
	return &PackPresence{set: make(map[string]struct{})}
}

// Add records name as present.
func (p *PackPresence) Add(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set[name] = struct{}{}
}

// Has reports whether name has been recorded as present.
func (p *PackPresence) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[name]
	return ok
}

// Snapshot returns the current present names, unordered.
func (p *PackPresence) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.set))
	for name := range p.set {
		out = append(out, name)
	}
	return out
}

// Scheduler runs a bounded pool of download workers against one cache
// root. No retries are attempted beyond what net/http does natively: a
// failed task aborts the whole Run call, per the no-retries design.
type Scheduler struct {
	transport   *httpapi.Transport
	cacheRoot   string
	present     *PackPresence
	concurrency int
	logger      zerolog.Logger
}

// New builds a Scheduler. concurrency < 1 is treated as 1 (the
// degenerate sequential path).
func New(transport *httpapi.Transport, cacheRoot string, present *PackPresence, concurrency int, logger zerolog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		transport:   transport,
		cacheRoot:   cacheRoot,
		present:     present,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run downloads every item, up to s.concurrency at a time. It returns the
// first error encountered; errgroup.WithContext cancels the remaining
// in-flight workers once one fails.
func (s *Scheduler) Run(ctx context.Context, items []WorkItem) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(s.concurrency))

	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return s.runOne(gctx, item)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, item WorkItem) error {
	resp, err := s.transport.GetStream(ctx, item.URL, nil)
	if err != nil {
		return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("GET %s", item.URL))
	}
	defer resp.Body.Close()

	switch {
	case item.Leaf != nil:
		return s.downloadLeaf(item.Leaf, resp.Body)
	case item.Meta != nil:
		return s.downloadMeta(item.Meta, resp.Body)
	default:
		return fmt.Errorf("scheduler: work item carries neither a leaf nor a meta task")
	}
}

func (s *Scheduler) packDir(name string) string {
	c := "_"
	if len(name) > 0 {
		c = string(name[0])
	}
	return filepath.Join(s.cacheRoot, "pkg"+c)
}

func (s *Scheduler) downloadLeaf(task *LeafTask, body io.Reader) error {
	target := filepath.Join(s.packDir(task.PackName), task.PackName)
	w, err := cacheio.NewAtomicWriter(target, 0o644)
	if err != nil {
		return asterrors.Wrap(asterrors.FileSystem, err, "open leaf target")
	}
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(w, body, buf); err != nil {
		_ = w.Abort()
		return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("stream leaf %s", task.PackName))
	}
	if err := w.Commit(); err != nil {
		return asterrors.Wrap(asterrors.FileSystem, err, "commit leaf target")
	}
	s.present.Add(task.PackName)
	return nil
}

// ValidateSplitsMonotonic checks that splits are sorted ascending by
// offset and that no split overlaps the next — the invariant the planner
// is required to uphold before handing a MetaTask to the scheduler.
func ValidateSplitsMonotonic(splits []Split) error {
	for i := 0; i+1 < len(splits); i++ {
		if splits[i].Offset+splits[i].Size > splits[i+1].Offset {
			return fmt.Errorf("scheduler: meta splits unsorted or overlapping at index %d", i)
		}
	}
	return nil
}

// downloadMeta walks the response body and the splits list in lockstep:
// bytes before the next split's offset are discarded, each split is read
// for exactly its size into its own package file, and anything left over
// once the splits list is exhausted is discarded.
func (s *Scheduler) downloadMeta(task *MetaTask, body io.Reader) error {
	if err := ValidateSplitsMonotonic(task.Splits); err != nil {
		return asterrors.Wrap(asterrors.ProtocolMalformed, err, task.MetapackName)
	}

	var streamOffset int64
	for _, split := range task.Splits {
		if gap := split.Offset - streamOffset; gap > 0 {
			if _, err := io.CopyN(io.Discard, body, gap); err != nil {
				return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("skip to split %s", split.Name))
			}
			streamOffset += gap
		}

		target := filepath.Join(s.packDir(split.Name), split.Name)
		w, err := cacheio.NewAtomicWriter(target, 0o644)
		if err != nil {
			return asterrors.Wrap(asterrors.FileSystem, err, "open split target")
		}
		n, err := io.CopyN(w, body, split.Size)
		if err != nil {
			_ = w.Abort()
			return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("stream split %s", split.Name))
		}
		if n != split.Size {
			_ = w.Abort()
			return asterrors.New(asterrors.DownloadFailure, fmt.Sprintf("split %s: wrote %d of %d bytes", split.Name, n, split.Size))
		}
		if err := w.Commit(); err != nil {
			return asterrors.Wrap(asterrors.FileSystem, err, "commit split target")
		}
		s.present.Add(split.Name)
		streamOffset += split.Size
	}

	if _, err := io.Copy(io.Discard, body); err != nil && err != io.EOF {
		return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("drain trailing bytes for %s", task.MetapackName))
	}
	return nil
}
