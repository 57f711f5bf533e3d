package postinstall

import (
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

// WriteMachineID stamps a fresh identifier into the target so systems
// installed from the same image never share one.
func WriteMachineID(targetDir string) error {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	path := filepath.Join(targetDir, "etc", "machine-id")
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0444); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to write %s", path))
	}
	klog.V(4).Infof("Wrote machine id [%s]", id)
	return nil
}
