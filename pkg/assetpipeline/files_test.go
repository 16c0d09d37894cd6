package assetpipeline

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/lanternkey/astool/pkg/cryptoutil"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/manifest"
)

func xorDecrypt(keys cryptoutil.KeySet, buf []byte) {
	key := byte(keys.K1 ^ keys.K2 ^ keys.K3)
	for i := range buf {
		buf[i] ^= key
	}
}

func TestFetchFileDecryptsInflatesAndValidates(t *testing.T) {
	plain := []byte("asset bundle contents, repeated for good measure, repeated for good measure")

	var deflated bytes.Buffer
	fw, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("new flate writer: %v", err)
	}
	if _, err := fw.Write(plain); err != nil {
		t.Fatalf("deflate write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("deflate close: %v", err)
	}

	keys := cryptoutil.KeySet{K1: 0x11, K2: 0x22, K3: 0x44}
	encrypted := append([]byte(nil), deflated.Bytes()...)
	maskKey := byte(keys.K1 ^ keys.K2 ^ keys.K3)
	for i := range encrypted {
		encrypted[i] ^= maskKey
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(encrypted)
	}))
	defer srv.Close()

	ref := manifest.FileReference{
		MasterVersion: "7",
		Name:          "bundle.dat",
		Keys:          [3]uint32{keys.K1, keys.K2, keys.K3},
	}
	sum := sha1.Sum(encrypted)
	ref.EncryptedSHA = hex.EncodeToString(sum[:])

	dir := t.TempDir()
	transport := httpapi.New(5 * time.Second)
	if err := FetchFile(context.Background(), transport, srv.URL, ref, dir, xorDecrypt); err != nil {
		t.Fatalf("fetch file: %v", err)
	}

	clearPath, _ := FilePaths(dir, ref.MasterVersion, ref.Name)
	got, err := os.ReadFile(clearPath)
	if err != nil {
		t.Fatalf("read clear file: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("clear content mismatch:\n got  %q\n want %q", got, plain)
	}
	if !FileIsValid(dir, ref) {
		t.Fatalf("expected cached file to validate against manifest hash")
	}
}

func TestFileIsValidRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	ref := manifest.FileReference{MasterVersion: "7", Name: "nope.dat", EncryptedSHA: "whatever"}
	if FileIsValid(dir, ref) {
		t.Fatalf("expected missing file to be invalid")
	}
}
