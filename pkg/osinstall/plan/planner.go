package plan

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

const (
	// alignmentMiB is reserved in front of the first partition and
	// before the backup partition table at the disk's tail.
	alignmentMiB = 1

	defaultEFISize = "512M"

	// Machines at or below this much memory get a swap partition,
	// sized to memory, in default layouts.
	swapMemoryCeiling = 4 << 30
)

// Build derives the concrete disk plan from a validated template, the
// visible block devices and the machine's memory size. Build performs
// no I/O, so identical inputs always produce an identical plan.
func Build(tmpl *types.Template, devices []DeviceInfo, memoryBytes int64) (*Plan, error) {
	t := types.Template{}
	if tmpl != nil {
		t = *tmpl
	}
	if len(t.PartitionLayout) == 0 {
		if err := insertDefaultLayout(&t, devices, memoryBytes); err != nil {
			return nil, err
		}
	}

	p := &Plan{Image: ImageSource{Type: t.ImageSourceType, Location: t.ImageSourceLocation}}

	if err := resolvePartitions(p, &t, devices); err != nil {
		return nil, err
	}
	arrayDevices, err := resolveArrays(p, &t)
	if err != nil {
		return nil, err
	}
	if err := resolveFilesystems(p, &t, arrayDevices); err != nil {
		return nil, err
	}
	if err := resolveMounts(p, &t, arrayDevices); err != nil {
		return nil, err
	}
	return p, nil
}

// insertDefaultLayout fills the disk sections when the template has
// none: the first disk that is not the installer's own boot medium is
// split into an EFI partition, a swap partition when the memory policy
// applies, and the rest as root.
func insertDefaultLayout(t *types.Template, devices []DeviceInfo, memoryBytes int64) error {
	dev := ""
	for _, d := range devices {
		if !d.InstallerMedium {
			dev = d.Name
			break
		}
	}
	if dev == "" {
		return oserrors.New(oserrors.CategoryPlan, errors.New("no installable disk: every visible device hosts the installer"))
	}
	klog.V(4).Infof("Template has no partition layout, defaulting to disk [%s]", dev)

	parts := []types.Partition{{Disk: dev, Partition: 1, Size: defaultEFISize, Type: types.PartitionTypeEFI}}
	fstypes := []types.Filesystem{{Disk: dev, Partition: 1, Type: "vfat"}}
	mounts := []types.MountPoint{{Disk: dev, Partition: 1, Mount: "/boot"}}

	next := 2
	if memoryBytes > 0 && memoryBytes <= swapMemoryCeiling {
		swapSize := fmt.Sprintf("%dM", BytesToMiB(memoryBytes))
		parts = append(parts, types.Partition{Disk: dev, Partition: next, Size: swapSize, Type: types.PartitionTypeSwap})
		fstypes = append(fstypes, types.Filesystem{Disk: dev, Partition: next, Type: "swap"})
		next++
	}
	parts = append(parts, types.Partition{Disk: dev, Partition: next, Size: types.SizeRest, Type: types.PartitionTypeLinux})
	fstypes = append(fstypes, types.Filesystem{Disk: dev, Partition: next, Type: "ext4"})
	mounts = append(mounts, types.MountPoint{Disk: dev, Partition: next, Mount: "/"})

	t.PartitionLayout = parts
	t.FilesystemTypes = fstypes
	t.PartitionMountPoints = mounts
	return nil
}

func resolvePartitions(p *Plan, t *types.Template, devices []DeviceInfo) error {
	sizes := make(map[string]int64, len(devices))
	for _, d := range devices {
		sizes[d.Name] = BytesToMiB(d.SizeBytes)
	}

	diskOrder := make([]string, 0, 1)
	perDisk := make(map[string][]types.Partition)
	for _, part := range t.PartitionLayout {
		if _, seen := perDisk[part.Disk]; !seen {
			diskOrder = append(diskOrder, part.Disk)
		}
		perDisk[part.Disk] = append(perDisk[part.Disk], part)
	}

	for _, disk := range diskOrder {
		diskMiB, present := sizes[disk]
		if !present {
			return oserrors.New(oserrors.CategoryPlan, errors.Errorf("disk %s is not present on this machine", disk))
		}
		parts := append([]types.Partition(nil), perDisk[disk]...)
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].Partition < parts[j].Partition })

		start := int64(alignmentMiB)
		for _, part := range parts {
			var end int64
			if part.Size == types.SizeRest {
				end = diskMiB - alignmentMiB
			} else {
				end = start + ToMiB(part.Size)
			}
			if end <= start || end > diskMiB-alignmentMiB {
				return oserrors.New(oserrors.CategoryPlan,
					errors.Errorf("partition %s does not fit: %d..%dMiB on a %dMiB disk", PartDevice(disk, part.Partition), start, end, diskMiB))
			}
			p.Partitions = append(p.Partitions, PartitionPlan{
				Disk:     disk,
				Number:   part.Partition,
				StartMiB: start,
				EndMiB:   end,
				Type:     part.Type,
				Device:   PartDevice(disk, part.Partition),
			})
			start = end
		}
	}
	return nil
}

// resolveArrays returns resultDevice name => device path for reference
// lookups in the filesystem and mount sections. Only md arrays can be
// assembled, so other modes fail here, before any device is touched.
func resolveArrays(p *Plan, t *types.Template) (map[string]string, error) {
	if len(t.RaidSetup) > 0 && t.RaidSupport != types.RaidModeMD {
		return nil, oserrors.Newf(oserrors.CategoryRaid, "assembly mode %q is not supported, only md arrays can be assembled", t.RaidSupport)
	}
	arrayDevices := make(map[string]string, len(t.RaidSetup))
	for _, arr := range t.RaidSetup {
		members := make([]string, 0, len(arr.MemberPartitions))
		for _, ref := range arr.MemberPartitions {
			members = append(members, PartDevice(ref.Disk, ref.Partition))
		}
		device := "/dev/" + arr.ResultDevice
		arrayDevices[arr.ResultDevice] = device
		p.Arrays = append(p.Arrays, ArrayPlan{
			Name:    arr.Name,
			Mode:    t.RaidSupport,
			Device:  device,
			Members: members,
		})
	}
	return arrayDevices, nil
}

func (p *Plan) deviceFor(disk string, partition int, arrayDevices map[string]string) (string, bool) {
	if device, isArray := arrayDevices[disk]; isArray && partition == 0 {
		return device, true
	}
	for _, part := range p.Partitions {
		if part.Disk == disk && part.Number == partition {
			return part.Device, true
		}
	}
	return "", false
}

func resolveFilesystems(p *Plan, t *types.Template, arrayDevices map[string]string) error {
	mounts := make(map[types.PartitionRef]types.MountPoint, len(t.PartitionMountPoints))
	for _, m := range t.PartitionMountPoints {
		mounts[types.PartitionRef{Disk: m.Disk, Partition: m.Partition}] = m
	}

	for _, fs := range t.FilesystemTypes {
		device, resolved := p.deviceFor(fs.Disk, fs.Partition, arrayDevices)
		if !resolved {
			return oserrors.New(oserrors.CategoryPlan,
				errors.Errorf("filesystem for %s partition %d references nothing in the layout", fs.Disk, fs.Partition))
		}
		f := FilesystemPlan{
			Disk:      fs.Disk,
			Partition: fs.Partition,
			Device:    device,
			Type:      fs.Type,
			Options:   fs.Options,
		}
		if m, mounted := mounts[types.PartitionRef{Disk: fs.Disk, Partition: fs.Partition}]; mounted {
			f.Mount = m.Mount
			f.MountOptions = m.Options
		} else if fs.Type == types.PartitionTypeSwap {
			f.Mount = "none"
		}
		p.Filesystems = append(p.Filesystems, f)
	}
	return nil
}

// resolveMounts binds and orders the target mounts. Sorting by path
// puts every parent before its children, so / mounts before /boot and
// /boot before /boot/efi.
func resolveMounts(p *Plan, t *types.Template, arrayDevices map[string]string) error {
	for _, m := range t.PartitionMountPoints {
		device, resolved := p.deviceFor(m.Disk, m.Partition, arrayDevices)
		if !resolved {
			return oserrors.New(oserrors.CategoryPlan,
				errors.Errorf("mount %s references nothing in the layout", m.Mount))
		}
		p.Mounts = append(p.Mounts, MountPlan{Device: device, Path: m.Mount})
	}
	sort.SliceStable(p.Mounts, func(i, j int) bool { return p.Mounts[i].Path < p.Mounts[j].Path })
	return nil
}
