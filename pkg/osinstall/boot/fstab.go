package boot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

const defaultMountOptions = "rw,relatime"

// WriteFstab renders one row per resolved filesystem into
// <targetDir>/etc/fstab. The file lands atomically so an interrupted
// install never leaves a truncated one behind.
func WriteFstab(targetDir string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		options := e.Options
		if options == "" {
			options = defaultMountOptions
		}
		fmt.Fprintf(&b, "UUID=%s\t%s\t%s\t%s\t0\t0\n", e.UUID, e.Mount, e.Type, options)
	}
	path := filepath.Join(targetDir, "etc", "fstab")
	if err := renameio.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return oserrors.New(oserrors.CategoryResolution, errors.Wrapf(err, "Failed to write %s", path))
	}
	klog.Infof("Wrote %d fstab entries to [%s]", len(entries), path)
	return nil
}
