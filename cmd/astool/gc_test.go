package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/astctx"
)

func newTestActx(t *testing.T) *astctx.Context {
	t.Helper()
	actx, err := astctx.New(astctx.EnvConfig{StorageRoot: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return actx
}

func seedMemo(t *testing.T, actx *astctx.Context, region, lastMaster, lastComplete string) {
	t.Helper()
	handle, err := actx.EnterMemo(region, false)
	if err != nil {
		t.Fatalf("enter memo: %v", err)
	}
	m := handle.Get()
	m.LastMasterVersion = lastMaster
	m.LastCompleteMasterVersion = lastComplete
	handle.Set(m)
	if err := handle.Commit(); err != nil {
		t.Fatalf("commit memo: %v", err)
	}
}

func TestRunGCRemovesStaleVersionsOnly(t *testing.T) {
	actx := newTestActx(t)
	seedMemo(t, actx, "global", "3", "2")

	_, mastersDir, _ := actx.RegionRoots("global")
	for _, v := range []string{"1", "2", "3"} {
		if err := os.MkdirAll(filepath.Join(mastersDir, v), 0o755); err != nil {
			t.Fatalf("seed masters dir: %v", err)
		}
	}

	if err := runGC(actx, zerolog.Nop(), []string{"-region", "global"}); err != nil {
		t.Fatalf("runGC: %v", err)
	}

	for _, v := range []string{"2", "3"} {
		if _, err := os.Stat(filepath.Join(mastersDir, v)); err != nil {
			t.Fatalf("expected %s to survive: %v", v, err)
		}
	}
	if _, err := os.Stat(filepath.Join(mastersDir, "1")); !os.IsNotExist(err) {
		t.Fatalf("expected version 1 to be removed, got err=%v", err)
	}
}

func TestRunGCProtectsCurrentSymlinkUnlessForced(t *testing.T) {
	actx := newTestActx(t)
	seedMemo(t, actx, "global", "5", "5")

	_, mastersDir, _ := actx.RegionRoots("global")
	for _, v := range []string{"1", "5"} {
		if err := os.MkdirAll(filepath.Join(mastersDir, v), 0o755); err != nil {
			t.Fatalf("seed masters dir: %v", err)
		}
	}
	if err := os.Symlink(filepath.Join(mastersDir, "1"), filepath.Join(mastersDir, "current")); err != nil {
		t.Fatalf("seed current symlink: %v", err)
	}

	if err := runGC(actx, zerolog.Nop(), []string{"-region", "global"}); err != nil {
		t.Fatalf("runGC: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mastersDir, "1")); err != nil {
		t.Fatalf("expected masters/current target to survive without -force: %v", err)
	}

	if err := runGC(actx, zerolog.Nop(), []string{"-region", "global", "-force"}); err != nil {
		t.Fatalf("runGC -force: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mastersDir, "1")); !os.IsNotExist(err) {
		t.Fatalf("expected masters/current target to be removed with -force, got err=%v", err)
	}
}

func TestRunGCDryRunRemovesNothing(t *testing.T) {
	actx := newTestActx(t)
	seedMemo(t, actx, "global", "3", "")

	_, mastersDir, _ := actx.RegionRoots("global")
	if err := os.MkdirAll(filepath.Join(mastersDir, "1"), 0o755); err != nil {
		t.Fatalf("seed masters dir: %v", err)
	}

	if err := runGC(actx, zerolog.Nop(), []string{"-region", "global", "-dry-run"}); err != nil {
		t.Fatalf("runGC -dry-run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mastersDir, "1")); err != nil {
		t.Fatalf("expected dry-run to leave version 1 untouched: %v", err)
	}
}
