package fs

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// Creation tool and default options per filesystem type. An options
// string in the template replaces the defaults verbatim.
var mkfsTools = map[string]struct {
	command        string
	defaultOptions string
}{
	"ext2":  {"mkfs.ext2", "-F"},
	"ext3":  {"mkfs.ext3", "-F"},
	"ext4":  {"mkfs.ext4", "-F"},
	"btrfs": {"mkfs.btrfs", "-f"},
	"xfs":   {"mkfs.xfs", "-f"},
	"vfat":  {"mkfs.vfat", ""},
	"swap":  {"mkswap", ""},
}

// Formatter creates filesystems on physical partitions and assembled
// arrays.
type Formatter struct {
	runner util.CommandRunner
}

func NewFormatter(runner util.CommandRunner) *Formatter {
	return &Formatter{runner: runner}
}

// Format creates every planned filesystem in plan order. Option
// strings are never parsed here; whatever the tool reports about them
// comes back attached to the error.
func (f *Formatter) Format(ctx context.Context, filesystems []plan.FilesystemPlan) error {
	klog.V(4).Info("Begin to create filesystems")
	for _, fs := range filesystems {
		if err := ctx.Err(); err != nil {
			return oserrors.New(oserrors.CategoryFilesystem, err)
		}
		tool, known := mkfsTools[fs.Type]
		if !known {
			return oserrors.Newf(oserrors.CategoryFilesystem, "no creation tool for filesystem type %q", fs.Type)
		}
		options := tool.defaultOptions
		if fs.Options != "" {
			options = fs.Options
		}
		cmd := tool.command
		if options != "" {
			cmd = fmt.Sprintf("%s %s", cmd, options)
		}
		cmd = fmt.Sprintf("%s %s", cmd, fs.Device)
		if _, err := f.runner.Run(ctx, cmd); err != nil {
			return oserrors.New(oserrors.CategoryFilesystem, errors.Wrapf(err, "Failed to create %s on %s", fs.Type, fs.Device))
		}
	}
	klog.V(4).Info("Success to create filesystems")
	return nil
}
