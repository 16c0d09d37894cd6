package cacheio

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
)

// SHA1Hex hashes the file at path and returns its lowercase hex digest. A
// missing file is reported as os.ErrNotExist, which callers treat as
// "invalid" rather than propagating a hard failure.
func SHA1Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
