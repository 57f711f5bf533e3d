package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

// RewriteLoaderEntries points every boot loader entry under
// <targetDir>/boot/loader/entries at the freshly formatted root
// filesystem. Images without loader entries are left alone.
func RewriteLoaderEntries(targetDir, rootUUID string) error {
	pattern := filepath.Join(targetDir, "boot", "loader", "entries", "*.conf")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return oserrors.New(oserrors.CategoryResolution, errors.Wrapf(err, "glob %s", pattern))
	}
	if len(matches) == 0 {
		klog.Infof("No loader entries under [%s], skipped", filepath.Dir(pattern))
		return nil
	}
	for _, path := range matches {
		if err := rewriteEntry(path, rootUUID); err != nil {
			return err
		}
	}
	return nil
}

func rewriteEntry(path, rootUUID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return oserrors.New(oserrors.CategoryResolution, errors.Wrapf(err, "read %s", path))
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "options ") {
			lines[i] = fmt.Sprintf("options root=UUID=%s", rootUUID)
		}
	}
	if err := renameio.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return oserrors.New(oserrors.CategoryResolution, errors.Wrapf(err, "Failed to rewrite %s", path))
	}
	klog.V(4).Infof("Pointed loader entry [%s] at root=UUID=%s", path, rootUUID)
	return nil
}
