package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/astctx"
)

// runGC removes stale masters/<mv> directories, the "ancillary GC of stale
// master directories" the core explicitly leaves to an external
// collaborator. A version directory is stale if it matches neither
// memo.last_master_version nor memo.last_complete_master_version; it is
// additionally protected if masters/current (a symlink to the last-synced
// version) resolves to it, unless -force is set.
func runGC(actx *astctx.Context, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	region := fs.String("region", "global", "region to collect")
	force := fs.Bool("force", false, "remove the masters/current target too")
	dryRun := fs.Bool("dry-run", false, "print what would be removed without removing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handle, err := actx.EnterMemo(*region, true)
	if err != nil {
		return err
	}
	m := handle.Get()
	handle.Discard()

	keep := map[string]struct{}{}
	if m.LastMasterVersion != "" {
		keep[m.LastMasterVersion] = struct{}{}
	}
	if m.LastCompleteMasterVersion != "" {
		keep[m.LastCompleteMasterVersion] = struct{}{}
	}

	_, mastersDir, _ := actx.RegionRoots(*region)
	entries, err := os.ReadDir(mastersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list %s: %w", mastersDir, err)
	}

	currentTarget := ""
	if target, err := os.Readlink(filepath.Join(mastersDir, "current")); err == nil {
		currentTarget = filepath.Base(target)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		version := e.Name()
		if _, ok := keep[version]; ok {
			continue
		}
		if version == currentTarget && !*force {
			logger.Info().Str("version", version).Msg("skipping masters/current target; pass -force to remove it")
			continue
		}

		dir := filepath.Join(mastersDir, version)
		if *dryRun {
			fmt.Printf("would remove %s\n", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
		logger.Info().Str("version", version).Msg("removed stale master directory")
		removed++
	}

	if !*dryRun {
		fmt.Printf("removed %d stale master director%s\n", removed, pluralSuffix(removed))
	}
	return nil
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
