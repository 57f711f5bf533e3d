package postinstall

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

// InstallPackages installs each requested package inside the target
// tree with the manager the entry names. Order follows the template,
// the first failure stops the run.
func (e *Executor) InstallPackages(ctx context.Context, packages []types.Package, targetDir string) error {
	for _, pkg := range packages {
		cmd, err := packageCommand(pkg, targetDir)
		if err != nil {
			return err
		}
		klog.Infof("Start to install [%s] with %s", pkg.Name, pkg.Manager)
		if _, err := e.runner.RunUnbounded(ctx, cmd); err != nil {
			return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to install %s", pkg.Name))
		}
		klog.Infof("Succeed to install [%s]", pkg.Name)
	}
	return nil
}

func packageCommand(pkg types.Package, targetDir string) (string, error) {
	switch pkg.Manager {
	case types.PackageManagerSwupd:
		return fmt.Sprintf("chroot %s swupd bundle-add %s", targetDir, pkg.Name), nil
	case types.PackageManagerDnf:
		if pkg.Scope == types.PackageScopeGroup {
			return fmt.Sprintf("chroot %s dnf -y group install %s", targetDir, pkg.Name), nil
		}
		return fmt.Sprintf("chroot %s dnf -y install %s", targetDir, pkg.Name), nil
	case types.PackageManagerApt:
		return fmt.Sprintf("chroot %s apt-get -y install %s", targetDir, pkg.Name), nil
	}
	return "", oserrors.Newf(oserrors.CategoryPostInstall, "unknown package manager %q", pkg.Manager)
}
