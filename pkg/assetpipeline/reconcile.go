package assetpipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lanternkey/astool/pkg/assetindex"
)

const packDirAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// LocalPackages enumerates every package present under cacheRoot's
// pkg<c>/ buckets (one bucket per first character of the package name).
func LocalPackages(cacheRoot string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, c := range packDirAlphabet {
		dir := filepath.Join(cacheRoot, "pkg"+string(c))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			if len(name) > 0 && rune(name[0]) == c {
				out[name] = struct{}{}
			}
		}
	}
	return out, nil
}

// ResolveGroups turns a request for package groups into concrete
// package_key values: an explicit list is passed through, a LIKE pattern
// is resolved against m_asset_package, and allGroups resolves every known
// package_key.
func ResolveGroups(ctx context.Context, idx *assetindex.Index, groups []string, allGroups bool, likePattern string) ([]string, error) {
	switch {
	case likePattern != "":
		return idx.GroupsLike(ctx, likePattern)
	case allGroups:
		return idx.PackageKeys(ctx)
	default:
		return groups, nil
	}
}

// Reconcile resolves groupKeys to their m_asset_package_mapping rows and
// returns only the rows whose pack_name isn't already present under
// cacheRoot.
func Reconcile(ctx context.Context, idx *assetindex.Index, cacheRoot string, groupKeys []string) ([]assetindex.PackageMapping, error) {
	local, err := LocalPackages(cacheRoot)
	if err != nil {
		return nil, err
	}
	mappings, err := idx.MappingsForGroups(ctx, groupKeys, 500)
	if err != nil {
		return nil, err
	}

	var missing []assetindex.PackageMapping
	for _, m := range mappings {
		if _, have := local[m.PackName]; !have {
			missing = append(missing, m)
		}
	}
	return missing, nil
}

// Unreferenced returns the packages present under cacheRoot that no longer
// appear in m_asset_package_mapping at all — candidates for garbage
// collection.
func Unreferenced(ctx context.Context, idx *assetindex.Index, cacheRoot string) ([]string, error) {
	local, err := LocalPackages(cacheRoot)
	if err != nil {
		return nil, err
	}
	referenced, err := idx.AllPackNames(ctx)
	if err != nil {
		return nil, err
	}
	referencedSet := make(map[string]struct{}, len(referenced))
	for _, name := range referenced {
		referencedSet[name] = struct{}{}
	}

	var garbage []string
	for name := range local {
		if _, ok := referencedSet[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	return garbage, nil
}
