// Package artifact produces exactly one file to upload per checkpoint:
// either a serialized state snapshot or a caller-supplied archive taken
// verbatim.
package artifact

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/model"
)

// StateEncoder serializes training state (model and optimizer snapshots) to
// a single artifact stream.
type StateEncoder interface {
	EncodeState(w io.Writer) error
}

// Source selects what gets uploaded for a checkpoint. A non-empty
// ArchivePath is the explicit caller intent to upload that file verbatim
// (supports multi-file bundles produced by BundleFiles); otherwise State is
// serialized to the resolved local path. The dedicated field is the
// configuration flag: there is no precedence heuristic between the two.
type Source struct {
	ArchivePath string
	State       StateEncoder
}

// Package produces the single artifact file for a save call and returns its
// path. Serialization failures are reported, never skipped, since a missing
// artifact with a published metadata record would corrupt provenance
// integrity.
func Package(src Source, destPath string) (string, error) {
	if src.ArchivePath != "" {
		if _, err := os.Stat(src.ArchivePath); err != nil {
			return "", eris.Wrapf(model.ErrSerialization, "artifact: archive %s: %v", src.ArchivePath, err)
		}
		return src.ArchivePath, nil
	}

	if src.State == nil {
		return "", eris.Wrap(model.ErrSerialization, "artifact: no state and no archive path supplied")
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrapf(model.ErrSerialization, "artifact: create %s: %v", destPath, err)
	}

	w := bufio.NewWriter(f)
	if err := src.State.EncodeState(w); err != nil {
		f.Close()
		os.Remove(destPath)
		return "", eris.Wrapf(model.ErrSerialization, "artifact: encode state: %v", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(destPath)
		return "", eris.Wrapf(model.ErrSerialization, "artifact: flush %s: %v", destPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return "", eris.Wrapf(model.ErrSerialization, "artifact: close %s: %v", destPath, err)
	}

	return destPath, nil
}

// jsonState encodes an arbitrary value as JSON.
type jsonState struct {
	v any
}

func (s jsonState) EncodeState(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(s.v)
}

// JSONState returns an encoder that serializes v as JSON. Values that JSON
// cannot represent (channels, funcs, cyclic graphs) surface as
// ErrSerialization at package time.
func JSONState(v any) StateEncoder {
	return jsonState{v: v}
}

// bytesState writes a pre-serialized state blob.
type bytesState struct {
	data []byte
}

func (s bytesState) EncodeState(w io.Writer) error {
	_, err := w.Write(s.data)
	return err
}

// BytesState returns an encoder that writes data as-is, for callers that
// serialize their state themselves.
func BytesState(data []byte) StateEncoder {
	return bytesState{data: data}
}
