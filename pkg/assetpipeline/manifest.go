package assetpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/cacheio"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/manifest"
)

// auxInfo is the small JSON sidecar written beside a fetched manifest,
// recording the bundle version the manifest was fetched under so a later
// run can tell whether a cached manifest still matches the pinned bundle.
type auxInfo struct {
	BundleVersion string `json:"bundle_version"`
}

// ManifestPaths returns the on-disk paths a manifest for (masterVersion,
// platform, language) is cached under beneath mastersRoot.
func ManifestPaths(mastersRoot, masterVersion, platform, language string) (rawPath, auxPath string) {
	dir := filepath.Join(mastersRoot, masterVersion)
	rawPath = filepath.Join(dir, fmt.Sprintf("masterdata_%s_%s", platform, language))
	auxPath = filepath.Join(dir, fmt.Sprintf("auxinfo_%s", platform))
	return rawPath, auxPath
}

// FetchManifest returns the manifest for (masterVersion, platform,
// language). If a cached copy already exists on disk and parses cleanly
// under masterKeys, it's returned without touching the network; otherwise
// the manifest is fetched from apiRoot, cached, and parsed.
func FetchManifest(ctx context.Context, transport *httpapi.Transport, apiRoot, masterVersion, platform, language, mastersRoot string, masterKeys [3]uint32, bundleVersion string) (*manifest.Manifest, error) {
	rawPath, auxPath := ManifestPaths(mastersRoot, masterVersion, platform, language)

	if cached, found, err := cacheio.ReadIfExists(rawPath); err == nil && found {
		if m, perr := manifest.Parse(cached, masterKeys); perr == nil {
			return m, nil
		}
	}

	url := fmt.Sprintf("%s/static/%s/masterdata_%s_%s", apiRoot, masterVersion, platform, language)
	resp, err := transport.GetStream(ctx, url, nil)
	if err != nil {
		return nil, asterrors.Wrap(asterrors.Transport, err, "fetch manifest")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, asterrors.Wrap(asterrors.Transport, err, "read manifest body")
	}

	if err := cacheio.AtomicWriteFile(rawPath, data, 0o644); err != nil {
		return nil, asterrors.Wrap(asterrors.FileSystem, err, "cache manifest")
	}

	auxJSON, err := json.Marshal(auxInfo{BundleVersion: bundleVersion})
	if err != nil {
		return nil, fmt.Errorf("assetpipeline: marshal aux info: %w", err)
	}
	if err := cacheio.AtomicWriteFile(auxPath, auxJSON, 0o644); err != nil {
		return nil, asterrors.Wrap(asterrors.FileSystem, err, "write aux info")
	}

	m, err := manifest.Parse(data, masterKeys)
	if err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "parse fetched manifest")
	}
	return m, nil
}
