// Package sync copies the mounted source tree onto the mounted
// target tree.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/util"
)

type Syncer struct {
	runner util.CommandRunner
}

func NewSyncer(runner util.CommandRunner) *Syncer {
	return &Syncer{runner: runner}
}

// Copy replicates sourceDir into targetDir preserving ownership,
// permissions, ACLs, hard links and xattrs. With skeleton true only
// the directory structure is copied, no file content.
func (s *Syncer) Copy(ctx context.Context, sourceDir, targetDir string, skeleton bool) error {
	klog.Infof("Start to sync [%s] to [%s]", sourceDir, targetDir)
	start := time.Now()

	filter := ""
	if skeleton {
		filter = `-f "+ */" -f "- *" `
	}
	cmd := fmt.Sprintf("rsync -aAHX %s--exclude lost+found %s/ %s", filter, sourceDir, targetDir)
	if _, err := s.runner.RunUnbounded(ctx, cmd); err != nil {
		return oserrors.New(oserrors.CategorySync, errors.Wrap(err, "Failed to sync source to target"))
	}

	klog.Infof("Succeed to sync [%s] to [%s], elapsed %s", sourceDir, targetDir, time.Since(start).Round(time.Second))
	return nil
}
