package mount

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// Mounter mounts the target filesystems and remembers its work so a
// failure rolls back in reverse order.
type Mounter struct {
	runner  util.CommandRunner
	mounted []string
}

func NewMounter(runner util.CommandRunner) *Mounter {
	return &Mounter{runner: runner}
}

// MountTargets mounts the planned filesystems under targetDir. The
// plan orders mounts parents-first. On any failure everything mounted
// so far is unmounted again before the error propagates.
func (m *Mounter) MountTargets(ctx context.Context, targetDir string, mounts []plan.MountPlan) error {
	for _, mt := range mounts {
		if err := ctx.Err(); err != nil {
			m.rollback()
			return oserrors.New(oserrors.CategoryMount, err)
		}
		target := targetDir + mt.Path
		if mt.Path != "/" {
			if _, err := m.runner.Run(ctx, fmt.Sprintf("mkdir -p %s", target)); err != nil {
				m.rollback()
				return oserrors.New(oserrors.CategoryMount, errors.Wrapf(err, "Failed to create mount point %s", target))
			}
		}
		if _, err := m.runner.Run(ctx, fmt.Sprintf("mount %s %s", mt.Device, target)); err != nil {
			m.rollback()
			return oserrors.New(oserrors.CategoryMount, errors.Wrapf(err, "Failed to mount %s at %s", mt.Device, target))
		}
		klog.V(4).Infof("Mounted [%s] at [%s]", mt.Device, target)
		m.mounted = append(m.mounted, target)
	}
	return nil
}

// UnmountAll unmounts in reverse mount order. Failures are logged and
// do not stop the remaining unmounts.
func (m *Mounter) UnmountAll(ctx context.Context) {
	for i := len(m.mounted) - 1; i >= 0; i-- {
		if _, err := m.runner.Run(ctx, fmt.Sprintf("umount %s", m.mounted[i])); err != nil {
			klog.Errorf("unmount %s: %v", m.mounted[i], err)
		}
	}
	m.mounted = nil
}

// Mounted returns the active mounts in mount order.
func (m *Mounter) Mounted() []string {
	return append([]string(nil), m.mounted...)
}

// rollback must run even when the install context is already canceled.
func (m *Mounter) rollback() {
	m.UnmountAll(context.Background())
}
