package plan

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DeviceInfo is the planner's view of one candidate disk.
type DeviceInfo struct {
	Name            string // kernel name like sda
	SizeBytes       int64
	Rotational      bool
	InstallerMedium bool // carries the filesystem the installer booted from
}

// Plan is the resolved layout for one installation run: every "rest"
// size converted to an absolute range and every reference bound to a
// device path. It is built once and read-only downstream.
type Plan struct {
	Image       ImageSource
	Partitions  []PartitionPlan
	Arrays      []ArrayPlan
	Filesystems []FilesystemPlan
	Mounts      []MountPlan
}

type ImageSource struct {
	Type     string
	Location string
}

type PartitionPlan struct {
	Disk     string
	Number   int
	StartMiB int64
	EndMiB   int64
	Type     string // EFI, linux, swap
	Device   string // /dev/sda1
}

// ArrayPlan assembles Members, in order, into the virtual Device.
type ArrayPlan struct {
	Name    string
	Mode    string // md, lvm, btrfs
	Device  string // /dev/md0
	Members []string
}

// FilesystemPlan carries the creation target plus the mount and fstab
// data resolved from the template's mount section. Swap filesystems
// get Mount "none" so they still land in fstab.
type FilesystemPlan struct {
	Disk         string
	Partition    int
	Device       string
	Type         string
	Options      string // verbatim creation-tool override
	Mount        string // "" when the filesystem is not mounted or listed
	MountOptions string // fstab options override
}

type MountPlan struct {
	Device string
	Path   string
}

// PartitionRecord exists once its partition does. The identifier is a
// filesystem-level property: it is assigned after the owning
// filesystem is created, exactly once, and never changes.
type PartitionRecord struct {
	PartitionPlan
	uuid string
}

func NewPartitionRecord(p PartitionPlan) *PartitionRecord {
	return &PartitionRecord{PartitionPlan: p}
}

func (r *PartitionRecord) UUID() string {
	return r.uuid
}

func (r *PartitionRecord) SetUUID(id string) error {
	if r.uuid != "" {
		return errors.Errorf("uuid already assigned to %s", r.Device)
	}
	if id == "" {
		return errors.Errorf("empty uuid for %s", r.Device)
	}
	r.uuid = id
	return nil
}

// PartDevice merges a disk name and partition number into a device
// path. nvme0n1 + 1 => /dev/nvme0n1p1; sda + 1 => /dev/sda1
func PartDevice(disk string, num int) string {
	if strings.HasPrefix(disk, "nvme") || strings.HasPrefix(disk, "nbd") {
		return fmt.Sprintf("/dev/%sp%d", disk, num)
	}
	return fmt.Sprintf("/dev/%s%d", disk, num)
}
