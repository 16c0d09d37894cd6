// Package astctx implements the Context: it resolves (region, bundle) to
// a ServerProfile, owns each region's on-disk roots, and serializes
// read-modify-write access to the region's account memo — grounded on
// pkg/cron/store_lock.go's per-path in-process mutex, generalized from
// guarding one JSON store file to guarding one memo file per region.
package astctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/memo"
	"github.com/lanternkey/astool/pkg/profile"
)

const memoFileName = "memo.json"

// Context owns the region→ServerProfile table and every region's
// filesystem roots.
type Context struct {
	table       *profile.Table
	env         EnvConfig
	logger      zerolog.Logger
	storageRoot string
	memoLocks   sync.Map
}

// New loads the embedded region table, or, if $ASTOOL_REGION_CONFIG is
// set, the table in that file in its place (the override replaces the
// embedded table whole), and resolves the storage root (env override, or
// ~/.astool).
func New(env EnvConfig, logger zerolog.Logger) (*Context, error) {
	table, err := profile.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("astctx: load embedded region table: %w", err)
	}
	if env.RegionConfigPath != "" {
		raw, err := os.ReadFile(env.RegionConfigPath)
		if err != nil {
			return nil, asterrors.Wrap(asterrors.ConfigNotFound, err, "read region config override")
		}
		table, err = profile.LoadOverride(raw)
		if err != nil {
			return nil, err
		}
	}

	root := env.StorageRoot
	if root == "" {
		root = defaultStorageRoot()
	}

	return &Context{table: table, env: env, logger: logger, storageRoot: root}, nil
}

// Resolve picks the ServerProfile for (region, bundle); see profile.Table.Resolve.
func (c *Context) Resolve(region, bundle string) (*profile.ServerProfile, error) {
	return c.table.Resolve(region, bundle)
}

// Env returns the resolved environment configuration.
func (c *Context) Env() EnvConfig { return c.env }

// RegionRoots returns the cache dir, masters dir, and memo path for
// region, without creating them.
func (c *Context) RegionRoots(region string) (cacheDir, mastersDir, memoPath string) {
	base := filepath.Join(c.storageRoot, region)
	return filepath.Join(base, "cache"), filepath.Join(base, "masters"), filepath.Join(base, memoFileName)
}

func (c *Context) ensureRoots(region string) (cacheDir, mastersDir, memoPath string, err error) {
	cacheDir, mastersDir, memoPath = c.RegionRoots(region)
	for _, dir := range []string{cacheDir, mastersDir, filepath.Dir(memoPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", "", asterrors.Wrap(asterrors.FileSystem, err, fmt.Sprintf("create %s", dir))
		}
	}
	return cacheDir, mastersDir, memoPath, nil
}

func (c *Context) memoLockForPath(path string) *sync.Mutex {
	if val, ok := c.memoLocks.Load(path); ok {
		return val.(*sync.Mutex)
	}
	mu := &sync.Mutex{}
	actual, _ := c.memoLocks.LoadOrStore(path, mu)
	return actual.(*sync.Mutex)
}

// MarkSyncComplete records a fully successful sync for region: it updates
// the memo's last_complete_master_version and repoints the masters/current
// symlink at masters/<masterVersion>, per spec.md's on-disk layout ("symbolic
// link to the last-synced <mv> directory").
func (c *Context) MarkSyncComplete(region, masterVersion string) error {
	_, mastersDir, _, err := c.ensureRoots(region)
	if err != nil {
		return err
	}

	currentLink := filepath.Join(mastersDir, "current")
	if _, err := os.Lstat(currentLink); err == nil {
		if err := os.Remove(currentLink); err != nil {
			return asterrors.Wrap(asterrors.FileSystem, err, "remove stale masters/current symlink")
		}
	} else if !os.IsNotExist(err) {
		return asterrors.Wrap(asterrors.FileSystem, err, "stat masters/current")
	}
	if err := os.Symlink(filepath.Join(mastersDir, masterVersion), currentLink); err != nil {
		return asterrors.Wrap(asterrors.FileSystem, err, "symlink masters/current")
	}

	handle, err := c.EnterMemo(region, false)
	if err != nil {
		return err
	}
	defer handle.Discard()
	m := handle.Get()
	m.LastCompleteMasterVersion = masterVersion
	handle.Set(m)
	return handle.Commit()
}

// MemoHandle is a scoped read-modify-write handle over one region's memo:
// Get/Set the in-memory value, then exactly one of Commit (writes back,
// unless readOnly) or Discard (writes nothing) to release the region's
// memo lock.
type MemoHandle struct {
	path     string
	mu       *sync.Mutex
	memo     *memo.Memo
	readOnly bool
	closed   bool
}

// EnterMemo loads region's memo (treating a missing or corrupt file as
// empty, per pkg/memo.Load) and returns a scoped handle, serialized
// in-process against any other EnterMemo call for the same region.
func (c *Context) EnterMemo(region string, readOnly bool) (*MemoHandle, error) {
	_, _, memoPath, err := c.ensureRoots(region)
	if err != nil {
		return nil, err
	}
	mu := c.memoLockForPath(memoPath)
	mu.Lock()

	m, err := memo.Load(memoPath)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return &MemoHandle{path: memoPath, mu: mu, memo: m, readOnly: readOnly}, nil
}

// Get returns the current in-memory memo.
func (h *MemoHandle) Get() *memo.Memo { return h.memo }

// Set replaces the in-memory memo Commit will persist.
func (h *MemoHandle) Set(m *memo.Memo) { h.memo = m }

// Commit persists the memo (unless the handle is read-only) and releases
// the region's memo lock. Calling it twice, or calling it after Discard,
// is an error.
func (h *MemoHandle) Commit() error {
	if h.closed {
		return fmt.Errorf("astctx: memo handle already closed")
	}
	h.closed = true
	defer h.mu.Unlock()
	if h.readOnly {
		return nil
	}
	return memo.Save(h.path, h.memo)
}

// Discard releases the region's memo lock without writing anything back.
// Safe to call after Commit (a no-op in that case), so callers can defer
// it unconditionally.
func (h *MemoHandle) Discard() {
	if h.closed {
		return
	}
	h.closed = true
	h.mu.Unlock()
}
