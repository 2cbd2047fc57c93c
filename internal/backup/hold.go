package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// writeHold packs the source files of a quarantined batch into a zstd
// compressed tar under dir. Nothing from the batch reaches primary storage;
// the hold keeps the evidence for inspection.
func writeHold(dir, name, batchID, root string, files []string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	short := batchID
	if len(short) > 8 {
		short = short[:8]
	}
	out := filepath.Join(dir, fmt.Sprintf("%s-%s.tar.zst", name, short))

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create hold archive: %w", err)
	}
	if err := packHold(f, root, files); err != nil {
		f.Close()
		os.Remove(out)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("close hold archive: %w", err)
	}
	return out, nil
}

func packHold(w io.Writer, root string, files []string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)
	for _, rel := range files {
		if err := addToTar(tw, root, rel); err != nil {
			// A file removed since the scan is skipped; anything else aborts.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			tw.Close()
			zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func addToTar(tw *tar.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", rel, err)
	}
	hdr.Name = rel
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header %s: %w", rel, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("tar write %s: %w", rel, err)
	}
	return nil
}

// HoldEntries lists the files inside a quarantine hold archive.
func HoldEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd: %w", err)
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read hold archive: %w", err)
		}
		names = append(names, hdr.Name)
	}
}
