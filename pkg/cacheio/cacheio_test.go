package cacheio

import (
	"bytes"
	"compress/flate"
	"os"
	"path/filepath"
	"testing"

	"github.com/lanternkey/astool/pkg/cryptoutil"
)

type xorCipher struct{ key byte }

func (c *xorCipher) Decrypt(buf []byte) {
	for i := range buf {
		buf[i] ^= c.key
	}
}

func TestAtomicWriteFileReplacesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")

	if err := AtomicWriteFile(target, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWriteFile(target, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected 'second', got %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "out.bin" {
			t.Fatalf("unexpected leftover entry: %s", e.Name())
		}
	}
}

func TestReadIfExistsMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, found, err := ReadIfExists(filepath.Join(dir, "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for missing file")
	}
}

func TestDecryptInflateToFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := []byte("the quick brown fox jumps over the lazy dog, repeated for good measure, repeated for good measure")

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

	key := byte(0x5A)
	encrypted := append([]byte(nil), deflated.Bytes()...)
	for i := range encrypted {
		encrypted[i] ^= key
	}

	clearPath := filepath.Join(dir, "clear.bin")
	encPath := filepath.Join(dir, "enc.bin")

	err = DecryptInflateToFiles(bytes.NewReader(encrypted), &xorCipher{key: key}, clearPath, encPath)
	if err != nil {
		t.Fatalf("decrypt/inflate: %v", err)
	}

	gotClear, err := os.ReadFile(clearPath)
	if err != nil {
		t.Fatalf("read clear file: %v", err)
	}
	if !bytes.Equal(gotClear, plain) {
		t.Fatalf("clear content mismatch:\n got  %q\n want %q", gotClear, plain)
	}

	gotEnc, err := os.ReadFile(encPath)
	if err != nil {
		t.Fatalf("read encrypted sidecar: %v", err)
	}
	if !bytes.Equal(gotEnc, encrypted) {
		t.Fatalf("encrypted sidecar mismatch")
	}
}

func TestSHA1HexMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := SHA1Hex(filepath.Join(dir, "nope"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

var _ cryptoutil.BlockCipher = (*xorCipher)(nil)
