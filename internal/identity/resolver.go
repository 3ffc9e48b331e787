// Package identity derives deterministic checkpoint names and local artifact
// paths from caller-supplied naming inputs.
package identity

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ckpt-cli/internal/model"
)

// artifactExt is the file extension for serialized checkpoint artifacts.
const artifactExt = ".ckpt"

// Resolve validates the naming inputs, derives the checkpoint name and the
// local artifact path under baseDir, and ensures baseDir exists. The same
// inputs always produce the same name: run suffix, epoch, and the loss with
// fixed four-decimal formatting.
func Resolve(baseDir, runSuffix string, epoch int, loss float64) (model.CheckpointIdentity, string, error) {
	var zero model.CheckpointIdentity

	if runSuffix == "" {
		return zero, "", eris.Wrap(model.ErrInvalidNamingInput, "identity: empty run suffix")
	}
	if epoch < 1 {
		return zero, "", eris.Wrapf(model.ErrInvalidNamingInput, "identity: epoch %d < 1", epoch)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return zero, "", eris.Wrapf(model.ErrInvalidNamingInput, "identity: loss %v is not finite", loss)
	}

	id := model.CheckpointIdentity{
		RunSuffix: runSuffix,
		Epoch:     epoch,
		Loss:      loss,
		Name:      Name(runSuffix, epoch, loss),
	}

	if baseDir == "" {
		baseDir = "."
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return zero, "", eris.Wrapf(err, "identity: create base dir %s", baseDir)
	}

	return id, filepath.Join(baseDir, id.Name+artifactExt), nil
}

// Name returns the deterministic checkpoint name for the given inputs.
func Name(runSuffix string, epoch int, loss float64) string {
	return fmt.Sprintf("%s_epoch_%d_loss_%.4f", runSuffix, epoch, loss)
}
