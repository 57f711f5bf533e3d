package device

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// partedType maps a template partition type to parted's filesystem
// type hint.
var partedType = map[string]string{
	types.PartitionTypeEFI:   "fat32",
	types.PartitionTypeSwap:  "linux-swap",
	types.PartitionTypeLinux: "ext2",
}

// Partitioner writes partition tables per the plan.
type Partitioner struct {
	runner util.CommandRunner
}

func NewPartitioner(runner util.CommandRunner) *Partitioner {
	return &Partitioner{runner: runner}
}

// Apply partitions every disk in plan order and returns one record per
// created partition. The first tool failure halts all remaining
// partitioning, later disks included, since layouts may be ordered
// with intent. Records created so far are still returned.
func (p *Partitioner) Apply(ctx context.Context, pl *plan.Plan) ([]*plan.PartitionRecord, error) {
	klog.V(4).Info("Begin to partition disks")
	records := make([]*plan.PartitionRecord, 0, len(pl.Partitions))

	diskOrder := make([]string, 0, 1)
	perDisk := make(map[string][]plan.PartitionPlan)
	for _, part := range pl.Partitions {
		if _, seen := perDisk[part.Disk]; !seen {
			diskOrder = append(diskOrder, part.Disk)
		}
		perDisk[part.Disk] = append(perDisk[part.Disk], part)
	}

	for _, disk := range diskOrder {
		if err := p.applyDisk(ctx, disk, perDisk[disk], &records); err != nil {
			return records, err
		}
	}
	klog.V(4).Info("Success to partition disks")
	return records, nil
}

func (p *Partitioner) applyDisk(ctx context.Context, disk string, parts []plan.PartitionPlan, records *[]*plan.PartitionRecord) error {
	klog.V(4).Infof("Partition disk [%s] into %d partitions", disk, len(parts))
	if _, err := p.runner.Run(ctx, fmt.Sprintf("parted -sa optimal /dev/%s mklabel gpt", disk)); err != nil {
		return oserrors.New(oserrors.CategoryDevice, errors.Wrapf(err, "Failed to label disk %s", disk))
	}

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return oserrors.New(oserrors.CategoryDevice, err)
		}
		cmd := fmt.Sprintf("parted -sa optimal -- /dev/%s mkpart primary %s %dMiB %dMiB",
			disk, partedType[part.Type], part.StartMiB, part.EndMiB)
		if _, err := p.runner.Run(ctx, cmd); err != nil {
			return oserrors.New(oserrors.CategoryDevice, errors.Wrapf(err, "Failed to create partition %s", part.Device))
		}
		if part.Type == types.PartitionTypeEFI {
			if _, err := p.runner.Run(ctx, fmt.Sprintf("parted -s /dev/%s set %d boot on", disk, part.Number)); err != nil {
				return oserrors.New(oserrors.CategoryDevice, errors.Wrapf(err, "Failed to set boot flag on %s", part.Device))
			}
		}
		*records = append(*records, plan.NewPartitionRecord(part))
	}

	// rescan so the new device nodes exist before formatting
	if _, err := p.runner.Run(ctx, fmt.Sprintf("partprobe /dev/%s", disk)); err != nil {
		return oserrors.New(oserrors.CategoryDevice, errors.Wrapf(err, "Failed to reread partition table of %s", disk))
	}
	return nil
}
