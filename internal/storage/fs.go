// Package storage holds the filesystem primitives shared by the voice
// registry and the migration engine.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	FilePerm os.FileMode = 0o644
	DirPerm  os.FileMode = 0o755
)

// WriteFileAtomic writes data using temp file + rename so readers see either
// the old content or the new content, never a partial file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, DirPerm); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer fs.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	_ = fs.Chmod(path, FilePerm)
	return nil
}

// CopyTree copies every file under src into dst, creating directories as
// needed and overwriting files that already exist. src is left untouched.
// skip, when non-nil, is called with each slash-separated path relative to
// src; returning true leaves that entry (and, for directories, its
// contents) out of the copy.
func CopyTree(fs afero.Fs, src, dst string, skip func(rel string) bool) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(filepath.ToSlash(rel)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, DirPerm)
		}
		return copyFile(fs, path, target)
	})
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FilePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
