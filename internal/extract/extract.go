// Package extract unpacks the two-level archive structure the export
// service produces: an outer zip whose contents may include numbered
// Part-<n>.zip chunks, each itself a zip of content files.
package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Large exports are split into numbered part archives. Matching is
// case-insensitive; the service has emitted both "Part-1.zip" and
// "part-1.zip" over time.
var partArchivePattern = regexp.MustCompile(`(?i)^part-\d+\.zip$`)

// Unzip decompresses every entry of the zip archive at archivePath into
// targetDir, creating the directory if absent. Entry paths are preserved
// relative to targetDir; entries that would escape it are rejected.
func Unzip(archivePath, targetDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target directory %s: %w", targetDir, err)
	}
	for _, f := range zr.File {
		if err := writeEntry(f, targetDir); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(f *zip.File, targetDir string) error {
	dest := filepath.Join(targetDir, filepath.FromSlash(f.Name))
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes target directory", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dest, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(dest), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		rc.Close()
		return fmt.Errorf("create file %s: %w", dest, err)
	}
	_, copyErr := io.Copy(out, rc)
	closeOutErr := out.Close()
	closeRcErr := rc.Close()
	if err := errors.Join(copyErr, closeOutErr, closeRcErr); err != nil {
		os.Remove(dest)
		return fmt.Errorf("extract entry %s: %w", f.Name, err)
	}
	return nil
}

// ExtractParts unpacks every part archive sitting directly inside dir into
// dir itself, flattening the nested structure, and removes each consumed
// part archive. Zero parts is a valid single-part export, not an error.
// Returns the number of part archives consumed; errors on individual parts
// are collected and the remaining parts still processed.
func ExtractParts(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}

	count := 0
	var errs error
	for _, e := range entries {
		if e.IsDir() || !partArchivePattern.MatchString(e.Name()) {
			continue
		}
		partPath := filepath.Join(dir, e.Name())
		if err := Unzip(partPath, dir); err != nil {
			errs = errors.Join(errs, fmt.Errorf("part %s: %w", e.Name(), err))
			continue
		}
		if err := os.Remove(partPath); err != nil {
			errs = errors.Join(errs, fmt.Errorf("remove consumed part %s: %w", e.Name(), err))
			continue
		}
		count++
	}
	return count, errs
}
