package artifact

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// BundleFiles zips the given files into destPath so multiple artifacts can be
// attached to one record as a single upload. Entries are stored under their
// base names; duplicate base names are an error.
func BundleFiles(destPath string, paths []string) error {
	if len(paths) == 0 {
		return eris.New("artifact: no files to bundle")
	}

	f, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "artifact: create bundle %s", destPath)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	seen := make(map[string]struct{}, len(paths))

	for _, path := range paths {
		name := filepath.Base(path)
		if _, dup := seen[name]; dup {
			w.Close()
			os.Remove(destPath)
			return eris.Errorf("artifact: duplicate bundle entry %s", name)
		}
		seen[name] = struct{}{}

		if err := addToZip(w, name, path); err != nil {
			w.Close()
			os.Remove(destPath)
			return err
		}
	}

	if err := w.Close(); err != nil {
		os.Remove(destPath)
		return eris.Wrapf(err, "artifact: close bundle %s", destPath)
	}
	return nil
}

func addToZip(w *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: open %s", path)
	}
	defer src.Close()

	dst, err := w.Create(name)
	if err != nil {
		return eris.Wrapf(err, "artifact: add %s to bundle", name)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return eris.Wrapf(err, "artifact: write %s to bundle", name)
	}
	return nil
}
