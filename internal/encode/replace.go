package encode

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/media"
)

// replaceOriginal swaps the encoded output into the original's directory:
// copy to a temp name beside the original, apply the output identity,
// delete the original, rename. The rename is atomic within the directory's
// filesystem; after the original is deleted a failure can only be cleaned
// up and surfaced, not rolled back.
func (w *Worker) replaceOriginal(f *media.File, scratchOut string) (string, error) {
	dir := filepath.Dir(f.FilePath)
	base := stem(f.FileName)
	tempPath := filepath.Join(dir, base+".temp.mkv")
	finalPath := filepath.Join(dir, base+".mkv")

	if err := copyFile(scratchOut, tempPath); err != nil {
		os.Remove(tempPath)
		return "", errs.IOf("copy encoded output", err)
	}
	if err := w.applyIdentity(tempPath); err != nil {
		os.Remove(tempPath)
		return "", err
	}
	if err := os.Remove(f.FilePath); err != nil {
		os.Remove(tempPath)
		return "", errs.IOf("remove original", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", errs.IOf("rename encoded output", err)
	}
	return finalPath, nil
}

// applyIdentity sets the configured mode and ownership on the temp file.
func (w *Worker) applyIdentity(path string) error {
	if w.output.Mode != 0 {
		if err := os.Chmod(path, w.output.Mode); err != nil {
			return errs.IOf("chmod encoded output", err)
		}
	}
	if w.output.UID >= 0 || w.output.GID >= 0 {
		if err := os.Chown(path, w.output.UID, w.output.GID); err != nil {
			return errs.IOf("chown encoded output", err)
		}
	}
	return nil
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// stem strips the extension from a file name.
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
