package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/assetindex"
	"github.com/lanternkey/astool/pkg/assetpipeline"
	"github.com/lanternkey/astool/pkg/astctx"
	"github.com/lanternkey/astool/pkg/cacheio"
	"github.com/lanternkey/astool/pkg/manifest"
)

// runStatus reports memo and local reconciliation state without any
// network I/O, per SPEC_FULL.md's read-only dry-run listing.
func runStatus(actx *astctx.Context, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	region := fs.String("region", "global", "region to inspect")
	bundle := fs.String("bundle", "", "pinned bundle version (default: latest)")
	platform := fs.String("platform", "i", "platform code: i/ios or a/android")
	group := fs.String("group", "", "comma-separated package groups to summarize")
	allGroups := fs.Bool("all", false, "summarize every known group")
	like := fs.String("like", "", "LIKE pattern over package groups")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := parsePlatform(*platform); err != nil {
		return err
	}
	logger.Debug().Str("region", *region).Msg("status: reading memo, no network I/O")

	handle, err := actx.EnterMemo(*region, true)
	if err != nil {
		return err
	}
	defer handle.Discard()
	m := handle.Get()

	fmt.Printf("region:                    %s\n", *region)
	fmt.Printf("user_id:                   %d\n", m.UserID)
	fmt.Printf("auth_count:                %d\n", m.AuthCount)
	fmt.Printf("last_master_version:       %s\n", m.LastMasterVersion)
	fmt.Printf("last_complete_master_version: %s\n", m.LastCompleteMasterVersion)
	fmt.Printf("has_resume_blob:           %t\n", m.ResumeBlob != nil)

	if m.LastMasterVersion == "" {
		fmt.Println("no cached master version; run sync before requesting a reconciliation summary")
		return nil
	}

	prof, err := actx.Resolve(*region, *bundle)
	if err != nil {
		return err
	}
	masterKeys, err := prof.MasterKeys()
	if err != nil {
		return err
	}

	cacheDir, mastersDir, _ := actx.RegionRoots(*region)
	rawPath, _ := assetpipeline.ManifestPaths(mastersDir, m.LastMasterVersion, *platform, prof.PrimaryLang)
	cached, found, err := cacheio.ReadIfExists(rawPath)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("no cached manifest on disk; run sync to populate one")
		return nil
	}
	parsed, err := manifest.Parse(cached, masterKeys)
	if err != nil {
		fmt.Println("cached manifest does not parse; run sync to refresh it")
		return nil
	}

	var dbPath string
	for _, ref := range parsed.Files {
		if ref.Name == assetIndexFileName || strings.HasSuffix(ref.Name, "/"+assetIndexFileName) {
			clearPath, _ := assetpipeline.FilePaths(mastersDir, ref.MasterVersion, ref.Name)
			if data, found, _ := cacheio.ReadIfExists(clearPath); found && len(data) > 0 {
				dbPath = clearPath
			}
			break
		}
	}
	if dbPath == "" {
		fmt.Println("no cached asset index on disk; run sync to populate one")
		return nil
	}

	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("open asset index %s: %w", dbPath, err)
	}
	defer raw.Close()
	idx, err := assetindex.Open(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var groups []string
	if *group != "" {
		groups = strings.Split(*group, ",")
	}
	groupKeys, err := assetpipeline.ResolveGroups(ctx, idx, groups, *allGroups, *like)
	if err != nil {
		return fmt.Errorf("resolve groups: %w", err)
	}
	if len(groupKeys) == 0 {
		fmt.Println("no package groups requested; pass -group, -all, or -like")
		return nil
	}

	missing, err := assetpipeline.Reconcile(ctx, idx, cacheDir, groupKeys)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Printf("groups requested:          %d\n", len(groupKeys))
	fmt.Printf("packages missing:          %d\n", len(missing))
	return nil
}
