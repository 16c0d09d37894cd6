package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/assetindex"
	"github.com/lanternkey/astool/pkg/assetpipeline"
	"github.com/lanternkey/astool/pkg/astctx"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/scheduler"
)

// assetIndexFileName is the manifest entry name holding the bundled
// relational asset index; spec.md §3 names it in its on-disk layout
// example but does not give it its own constant.
const assetIndexFileName = "masterdata.db"

func runSync(actx *astctx.Context, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	region := fs.String("region", "global", "region to sync")
	bundle := fs.String("bundle", "", "pinned bundle version (default: latest)")
	platform := fs.String("platform", "i", "platform code: i/ios or a/android")
	group := fs.String("group", "", "comma-separated package groups to sync")
	allGroups := fs.Bool("all", false, "sync every known group")
	like := fs.String("like", "", "LIKE pattern over package groups")
	concurrency := fs.Int("concurrency", 10, "concurrent download workers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	plat, err := parsePlatform(*platform)
	if err != nil {
		return err
	}

	if actx.Env().NoConcurrentDownloads {
		*concurrency = 1
	}

	ctx := context.Background()
	engine, freshLogin, err := actx.GetIceAPI(ctx, *region, *bundle, plat, false)
	if err != nil {
		return fmt.Errorf("get ice api: %w", err)
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
	transport := httpapi.New(0)

	manifest, err := assetpipeline.FetchManifest(ctx, transport, prof.APIRoot, engine.MasterVersion(), *platform, prof.PrimaryLang, mastersDir, masterKeys, prof.BundleVersion)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}

	var released bool
	releaseEngine := func(saveSession bool) error {
		if released {
			return nil
		}
		released = true
		return actx.ReleaseIceAPI(*region, engine, freshLogin, saveSession)
	}

	var dbPath string
	for _, ref := range manifest.Files {
		if ref.Name != assetIndexFileName && !strings.HasSuffix(ref.Name, "/"+assetIndexFileName) {
			continue
		}
		if !assetpipeline.FileIsValid(mastersDir, ref) {
			url := fmt.Sprintf("%s/static/%s/%s", prof.APIRoot, engine.MasterVersion(), ref.Name)
			if err := assetpipeline.FetchFile(ctx, transport, url, ref, mastersDir, unimplementedBlockDecrypt); err != nil {
				_ = releaseEngine(false)
				return fmt.Errorf("fetch asset index: %w", err)
			}
		}
		clearPath, _ := assetpipeline.FilePaths(mastersDir, ref.MasterVersion, ref.Name)
		dbPath = clearPath
		break
	}
	if dbPath == "" {
		_ = releaseEngine(false)
		return fmt.Errorf("manifest for %s/%s has no %s entry", *region, *bundle, assetIndexFileName)
	}

	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		_ = releaseEngine(false)
		return fmt.Errorf("open asset index %s: %w", dbPath, err)
	}
	defer raw.Close()

	idx, err := assetindex.Open(raw)
	if err != nil {
		_ = releaseEngine(false)
		return err
	}

	var groups []string
	if *group != "" {
		groups = strings.Split(*group, ",")
	}
	groupKeys, err := assetpipeline.ResolveGroups(ctx, idx, groups, *allGroups, *like)
	if err != nil {
		_ = releaseEngine(false)
		return fmt.Errorf("resolve groups: %w", err)
	}

	missing, err := assetpipeline.Reconcile(ctx, idx, cacheDir, groupKeys)
	if err != nil {
		_ = releaseEngine(false)
		return fmt.Errorf("reconcile: %w", err)
	}
	logger.Info().Int("missing", len(missing)).Strs("groups", groupKeys).Msg("reconciled package groups")

	plan, err := assetpipeline.SynthesizePlan(ctx, idx, missing)
	if err != nil {
		_ = releaseEngine(false)
		return fmt.Errorf("synthesize plan: %w", err)
	}
	logger.Info().Int("leaves", len(plan.Leaves)).Int("metas", len(plan.Metas)).Msg("synthesized download plan")

	present := scheduler.NewPackPresence()
	sched := scheduler.New(httpapi.New(0), cacheDir, present, *concurrency, logger)

	err = assetpipeline.ExecutePlan(ctx, engine, sched, plan, func() {
		if releaseErr := releaseEngine(true); releaseErr != nil {
			logger.Warn().Err(releaseErr).Msg("release ice api after minting urls")
		}
	})
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}
	finalMasterVersion := engine.MasterVersion()
	if err := releaseEngine(true); err != nil {
		return fmt.Errorf("release ice api: %w", err)
	}

	if err := actx.MarkSyncComplete(*region, finalMasterVersion); err != nil {
		return fmt.Errorf("mark sync complete: %w", err)
	}

	logger.Info().Str("region", *region).Str("masters", filepath.Dir(dbPath)).Msg("sync complete")
	return nil
}
