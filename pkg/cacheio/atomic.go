// Package cacheio implements the atomic-write and streaming
// decrypt-then-inflate primitives shared by the memo store and the asset
// pipeline's file downloader. Every write goes through a sibling temp file
// with a reserved "._tmp_" prefix in the same directory as the target, so
// the final rename is guaranteed to be same-filesystem and atomic, and a
// crash never leaves a partial file visible under the target name.
package cacheio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/xid"
)

// ReadIfExists reads path, returning (nil, false, nil) if it doesn't exist
// rather than an error — the shape pkg/cron/store.go's backend.Read uses so
// callers can treat "not yet written" as a normal, non-fatal case.
func ReadIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// AtomicWriteFile writes data to path via a temp sibling file, fsyncs it,
// chmods it to perm, unlinks any existing target, and renames the temp file
// into place.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Commit()
}

// AtomicWriter is a temp-file-then-rename writer for streaming writes
// (e.g. the asset pipeline's decrypt→inflate download path) where the full
// content isn't available as one []byte up front.
type AtomicWriter struct {
	target  string
	tmpPath string
	file    *os.File
	perm    os.FileMode
	done    bool
}

// NewAtomicWriter opens a reserved-prefix temp file beside target.
func NewAtomicWriter(target string, perm os.FileMode) (*AtomicWriter, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cacheio: mkdir %s: %w", dir, err)
	}
	tmpPath := filepath.Join(dir, "._tmp_"+xid.New().String())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("cacheio: create temp file: %w", err)
	}
	return &AtomicWriter{target: target, tmpPath: tmpPath, file: f, perm: perm}, nil
}

// Write implements io.Writer against the temp file.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit fsyncs and closes the temp file, chmods it, unlinks any existing
// target, and renames the temp file into place.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return fmt.Errorf("cacheio: writer already finalized")
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("cacheio: sync temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("cacheio: close temp file: %w", err)
	}
	if err := os.Chmod(w.tmpPath, w.perm); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("cacheio: chmod temp file: %w", err)
	}
	if _, err := os.Stat(w.target); err == nil {
		if err := os.Remove(w.target); err != nil {
			_ = os.Remove(w.tmpPath)
			return fmt.Errorf("cacheio: remove existing target: %w", err)
		}
	}
	if err := os.Rename(w.tmpPath, w.target); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("cacheio: rename into place: %w", err)
	}
	return nil
}

// Abort discards the temp file without touching the target.
func (w *AtomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return os.Remove(w.tmpPath)
}
