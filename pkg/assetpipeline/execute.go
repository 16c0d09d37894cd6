package assetpipeline

import (
	"context"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/scheduler"
	"github.com/lanternkey/astool/pkg/session"
)

// ExecutePlan mints one signed URL per leaf/metapackage named in plan via
// engine.GetPackURLs, then hands the resulting work items to sched. onURLsMinted,
// if non-nil, runs after minting and before the (potentially long) download
// phase — the hook the caller uses to release the session engine early,
// since no further session calls are needed once URLs are minted.
func ExecutePlan(ctx context.Context, engine *session.Engine, sched *scheduler.Scheduler, plan *Plan, onURLsMinted func()) error {
	names := make([]string, 0, len(plan.Leaves)+len(plan.Metas))
	for _, l := range plan.Leaves {
		names = append(names, l.PackName)
	}
	for _, m := range plan.Metas {
		names = append(names, m.MetapackName)
	}
	if len(names) == 0 {
		return nil
	}

	urls, err := engine.GetPackURLs(ctx, names)
	if err != nil {
		return err
	}
	if len(urls) != len(names) {
		return asterrors.New(asterrors.ProtocolMalformed, "getPackUrl: url count does not match requested name count")
	}

	if onURLsMinted != nil {
		onURLsMinted()
	}

	items := make([]scheduler.WorkItem, 0, len(names))
	for i := range plan.Leaves {
		items = append(items, scheduler.WorkItem{Leaf: &plan.Leaves[i], URL: urls[i]})
	}
	offset := len(plan.Leaves)
	for i := range plan.Metas {
		items = append(items, scheduler.WorkItem{Meta: &plan.Metas[i], URL: urls[offset+i]})
	}

	return sched.Run(ctx, items)
}
