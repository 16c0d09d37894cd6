package assetpipeline

import (
	"context"

	"github.com/lanternkey/astool/pkg/assetindex"
	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/scheduler"
)

// Plan is a synthesized download plan: independently-downloadable Leaves
// and metapackages whose member splits must be demuxed from one response
// body each.
type Plan struct {
	Leaves []scheduler.LeafTask
	Metas  []scheduler.MetaTask
}

// SynthesizePlan turns a set of missing package_mapping rows (as returned
// by Reconcile) into a Plan: rows with no metapack_name become Leaf tasks
// directly, rows with a metapack_name pull in that metapack's complete
// split list (every member, not just the missing ones — a metapackage can
// only be fetched and demuxed whole) and collapse into one Meta task.
func SynthesizePlan(ctx context.Context, idx *assetindex.Index, missing []assetindex.PackageMapping) (*Plan, error) {
	wanted := make(map[string]assetindex.PackageMapping, len(missing))
	for _, m := range missing {
		wanted[m.PackName] = m
	}

	seenMetas := make(map[string]struct{})
	plan := &Plan{}

	for len(wanted) > 0 {
		var name string
		var m assetindex.PackageMapping
		for name, m = range wanted {
			break
		}

		if !m.MetapackName.Valid {
			plan.Leaves = append(plan.Leaves, scheduler.LeafTask{PackName: m.PackName, FileSize: m.FileSize})
		} else {
			metaName := m.MetapackName.String
			if _, done := seenMetas[metaName]; !done {
				meta, err := buildMetaTask(ctx, idx, metaName)
				if err != nil {
					return nil, err
				}
				plan.Metas = append(plan.Metas, *meta)
				seenMetas[metaName] = struct{}{}
				for _, split := range meta.Splits {
					delete(wanted, split.Name)
				}
			}
		}
		delete(wanted, name)
	}

	return plan, nil
}

func buildMetaTask(ctx context.Context, idx *assetindex.Index, metaName string) (*scheduler.MetaTask, error) {
	splits, err := idx.MetapackSplits(ctx, metaName)
	if err != nil {
		return nil, err
	}

	taskSplits := make([]scheduler.Split, 0, len(splits))
	for _, s := range splits {
		taskSplits = append(taskSplits, scheduler.Split{
			Name:   s.PackName,
			Offset: s.MetapackOffset.Int64,
			Size:   s.FileSize,
		})
	}
	if err := scheduler.ValidateSplitsMonotonic(taskSplits); err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, metaName)
	}
	return &scheduler.MetaTask{MetapackName: metaName, Splits: taskSplits}, nil
}
