// Package postinstall runs the configuration phase on the synced
// target tree. Nothing here touches partitions or filesystems, only
// the content of the installed system.
package postinstall

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
	"github.com/kubemetalio/osinstall/pkg/util"
)

type Executor struct {
	runner  util.CommandRunner
	fetcher *template.Fetcher
}

func NewExecutor(runner util.CommandRunner, fetcher *template.Fetcher) *Executor {
	return &Executor{runner: runner, fetcher: fetcher}
}

// RunNonChrootScripts executes each script on the installer host with
// the mounted target tree as its single argument.
func (e *Executor) RunNonChrootScripts(ctx context.Context, scripts []string, targetDir string) error {
	for _, script := range scripts {
		klog.Infof("Start to run script [%s]", script)
		if _, err := e.runner.RunUnbounded(ctx, fmt.Sprintf("%s %s", script, targetDir)); err != nil {
			return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to run script %s", script))
		}
		klog.Infof("Succeed to run script [%s]", script)
	}
	return nil
}

// RunChrootScripts executes each script inside the target tree. The
// script path is resolved against the target root, not the installer.
func (e *Executor) RunChrootScripts(ctx context.Context, scripts []string, targetDir string) error {
	for _, script := range scripts {
		klog.Infof("Start to run script [%s] in target", script)
		if _, err := e.runner.RunUnbounded(ctx, fmt.Sprintf("chroot %s %s", targetDir, script)); err != nil {
			return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to run script %s in target", script))
		}
		klog.Infof("Succeed to run script [%s] in target", script)
	}
	return nil
}
