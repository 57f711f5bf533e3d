package device

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/util"
)

type BlockDevices struct {
	BlockDevices []BlockDevice `json:"blockdevices"`
}

type BlockDevice struct {
	Device
	Children []Device `json:"children,omitempty"`
}

type Device struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Size       int64  `json:"size"` // unit: byte
	FStype     string `json:"fstype"`
	UUID       string `json:"uuid"`
	Type       string `json:"type"` // type: disk
	MountPoint string `json:"mountpoint"`
	Rota       bool   `json:"rota"` // rotational, true: HDD, false: SSD
}

// virtualPrefixes are never install targets.
var virtualPrefixes = []string{"nbd", "loop", "ram", "zram", "sr", "fd", "dm-", "md"}

// ListDisks executes lsblk to get the machine's candidate disks.
func ListDisks(ctx context.Context, runner util.CommandRunner) ([]BlockDevice, error) {
	var block BlockDevices
	output, err := runner.Run(ctx, "lsblk -J -b -o NAME,LABEL,SIZE,FSTYPE,UUID,TYPE,MOUNTPOINT,ROTA")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(output), &block); err != nil {
		return nil, errors.Wrap(err, "parse lsblk output")
	}

	disks := make([]BlockDevice, 0)
	for _, device := range block.BlockDevices {
		if device.Type != "disk" || isVirtual(device.Name) {
			continue
		}
		disks = append(disks, device)
	}
	if len(disks) == 0 {
		return nil, errors.New("no disk devices found")
	}
	return disks, nil
}

func isVirtual(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// PlannerInputs converts lsblk devices into the planner's view. A disk
// is the installer's own medium when one of its filesystems is mounted
// at /, /boot or under the live initramfs.
func PlannerInputs(disks []BlockDevice) []plan.DeviceInfo {
	infos := make([]plan.DeviceInfo, 0, len(disks))
	for _, disk := range disks {
		infos = append(infos, plan.DeviceInfo{
			Name:            disk.Name,
			SizeBytes:       disk.Size,
			Rotational:      disk.Rota,
			InstallerMedium: isInstallerMedium(disk),
		})
	}
	return infos
}

func isInstallerMedium(disk BlockDevice) bool {
	if isInstallerMount(disk.MountPoint) {
		return true
	}
	for _, child := range disk.Children {
		if isInstallerMount(child.MountPoint) {
			return true
		}
	}
	return false
}

func isInstallerMount(mount string) bool {
	switch mount {
	case "/", "/boot", "/run/initramfs/live":
		return true
	}
	return false
}

// MemoryBytes reads MemTotal from /proc/meminfo. 0 means unknown, in
// which case the planner's swap policy does not apply.
func MemoryBytes() int64 {
	raw, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
