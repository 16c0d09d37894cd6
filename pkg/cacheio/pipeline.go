package cacheio

import (
	"compress/flate"
	"fmt"
	"io"

	"github.com/lanternkey/astool/pkg/cryptoutil"
)

const chunkSize = 64 * 1024

// DecryptInflateToFiles streams src (the raw encrypted body of a manifest
// file, as returned by the HTTP client) through the given cipher and a raw
// deflate inflater, writing the decrypted-and-inflated clear content to
// clearPath and a verbatim copy of the raw encrypted bytes to encPath.
//
// Per spec.md §4.5, the clear file is committed before the encrypted
// sidecar: FileIsValid only ever consults the encrypted sidecar, so if a
// run is interrupted between the two commits, the sidecar's absence
// correctly forces a re-download instead of leaving a valid sidecar paired
// with a truncated clear file.
func DecryptInflateToFiles(src io.Reader, cipher cryptoutil.BlockCipher, clearPath, encPath string) error {
	clearWriter, err := NewAtomicWriter(clearPath, 0o644)
	if err != nil {
		return fmt.Errorf("cacheio: open clear writer: %w", err)
	}
	encWriter, err := NewAtomicWriter(encPath, 0o644)
	if err != nil {
		_ = clearWriter.Abort()
		return fmt.Errorf("cacheio: open encrypted sidecar writer: %w", err)
	}

	inflater := flate.NewReader(&decryptingTeeReader{
		src:    src,
		cipher: cipher,
		tee:    encWriter,
	})
	defer inflater.Close()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(clearWriter, inflater, buf); err != nil {
		_ = clearWriter.Abort()
		_ = encWriter.Abort()
		return fmt.Errorf("cacheio: decrypt/inflate stream: %w", err)
	}

	if err := clearWriter.Commit(); err != nil {
		_ = encWriter.Abort()
		return fmt.Errorf("cacheio: commit clear file: %w", err)
	}
	if err := encWriter.Commit(); err != nil {
		return fmt.Errorf("cacheio: commit encrypted sidecar: %w", err)
	}
	return nil
}

// decryptingTeeReader reads 64 KiB chunks from src, tees the raw encrypted
// bytes to tee, decrypts the chunk in place with cipher (whose internal
// state tracks total bytes consumed across calls), and returns the
// decrypted bytes to the caller (the flate reader).
type decryptingTeeReader struct {
	src    io.Reader
	cipher cryptoutil.BlockCipher
	tee    io.Writer
}

func (r *decryptingTeeReader) Read(p []byte) (int, error) {
	max := len(p)
	if max > chunkSize {
		max = chunkSize
	}
	n, err := r.src.Read(p[:max])
	if n > 0 {
		if _, werr := r.tee.Write(p[:n]); werr != nil {
			return n, werr
		}
		r.cipher.Decrypt(p[:n])
	}
	return n, err
}
