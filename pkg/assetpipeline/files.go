package assetpipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/cacheio"
	"github.com/lanternkey/astool/pkg/cryptoutil"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/manifest"
)

// FilePaths returns the clear and encrypted-sidecar paths a manifest file
// is cached under beneath mastersRoot/masterVersion.
func FilePaths(mastersRoot, masterVersion, name string) (clearPath, encPath string) {
	dir := filepath.Join(mastersRoot, masterVersion)
	return filepath.Join(dir, name), filepath.Join(dir, "enc", name)
}

// FileIsValid reports whether the cached encrypted sidecar for ref already
// matches ref.EncryptedSHA — the check that lets a rerun skip files it has
// already fetched and verified.
func FileIsValid(mastersRoot string, ref manifest.FileReference) bool {
	_, encPath := FilePaths(mastersRoot, ref.MasterVersion, ref.Name)
	got, err := cacheio.SHA1Hex(encPath)
	if err != nil {
		return false
	}
	return got == ref.EncryptedSHA
}

// FetchFile downloads, decrypts, and inflates one manifest file from url,
// writing the clear content and a verbatim encrypted sidecar beneath
// mastersRoot. decryptFn adapts the opaque block cipher the manifest file's
// keys parameterize.
func FetchFile(ctx context.Context, transport *httpapi.Transport, url string, ref manifest.FileReference, mastersRoot string, decryptFn cryptoutil.BlockDecryptFunc) error {
	resp, err := transport.GetStream(ctx, url, nil)
	if err != nil {
		return asterrors.Wrap(asterrors.DownloadFailure, err, fmt.Sprintf("fetch %s", ref.Name))
	}
	defer resp.Body.Close()

	clearPath, encPath := FilePaths(mastersRoot, ref.MasterVersion, ref.Name)
	cipher := cryptoutil.NewStreamDecryptor(cryptoutil.KeySet{K1: ref.Keys[0], K2: ref.Keys[1], K3: ref.Keys[2]}, decryptFn)
	if err := cacheio.DecryptInflateToFiles(resp.Body, cipher, clearPath, encPath); err != nil {
		return asterrors.Wrap(asterrors.IntegrityFailure, err, fmt.Sprintf("decrypt %s", ref.Name))
	}

	if !FileIsValid(mastersRoot, ref) {
		return asterrors.New(asterrors.IntegrityFailure, fmt.Sprintf("%s: encrypted content does not match manifest hash", ref.Name))
	}
	return nil
}
