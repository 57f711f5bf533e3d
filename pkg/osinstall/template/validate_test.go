package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

func validTemplate() *types.Template {
	return &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img.xz",
		PartitionLayout: []types.Partition{
			{Disk: "sda", Partition: 1, Size: "512M", Type: types.PartitionTypeEFI},
			{Disk: "sda", Partition: 2, Size: "2G", Type: types.PartitionTypeSwap},
			{Disk: "sda", Partition: 3, Size: types.SizeRest, Type: types.PartitionTypeLinux},
		},
		FilesystemTypes: []types.Filesystem{
			{Disk: "sda", Partition: 1, Type: "vfat"},
			{Disk: "sda", Partition: 2, Type: "swap"},
			{Disk: "sda", Partition: 3, Type: "ext4"},
		},
		PartitionMountPoints: []types.MountPoint{
			{Disk: "sda", Partition: 1, Mount: "/boot"},
			{Disk: "sda", Partition: 3, Mount: "/"},
		},
	}
}

func raidTemplate() *types.Template {
	tm := validTemplate()
	tm.PartitionLayout = append(tm.PartitionLayout,
		types.Partition{Disk: "sdb", Partition: 1, Size: "8G", Type: types.PartitionTypeLinux},
		types.Partition{Disk: "sdb", Partition: 2, Size: "8G", Type: types.PartitionTypeLinux})
	tm.RaidSupport = types.RaidModeMD
	tm.RaidSetup = []types.RaidArray{{
		Name:         "data",
		ResultDevice: "md0",
		MemberPartitions: []types.PartitionRef{
			{Disk: "sdb", Partition: 1},
			{Disk: "sdb", Partition: 2},
		},
	}}
	tm.FilesystemTypes = append(tm.FilesystemTypes, types.Filesystem{Disk: "md0", Partition: 0, Type: "ext4"})
	tm.PartitionMountPoints = append(tm.PartitionMountPoints, types.MountPoint{Disk: "md0", Partition: 0, Mount: "/data"})
	return tm
}

func TestValidateAcceptsExample(t *testing.T) {
	require.NoError(t, Validate(validTemplate()))
}

func TestValidateAcceptsRaidTemplate(t *testing.T) {
	require.NoError(t, Validate(raidTemplate()))
}

func TestValidateSchemaRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.Template)
		message string
	}{
		{
			"missing image source type",
			func(tm *types.Template) { tm.ImageSourceType = "" },
			"ImageSourceType",
		},
		{
			"unknown image source type",
			func(tm *types.Template) { tm.ImageSourceType = "ftp" },
			"supported values",
		},
		{
			"missing image location",
			func(tm *types.Template) { tm.ImageSourceLocation = "" },
			"ImageSourceLocation",
		},
		{
			"malformed size",
			func(tm *types.Template) { tm.PartitionLayout[1].Size = "2048K" },
			"512M",
		},
		{
			"zero partition number",
			func(tm *types.Template) { tm.PartitionLayout[0].Partition = 0 },
			"positive",
		},
		{
			"unknown partition type",
			func(tm *types.Template) { tm.PartitionLayout[2].Type = "ntfs" },
			"supported values",
		},
		{
			"no EFI partition",
			func(tm *types.Template) { tm.PartitionLayout[0].Type = types.PartitionTypeLinux },
			"exactly one EFI",
		},
		{
			"two EFI partitions",
			func(tm *types.Template) { tm.PartitionLayout[1].Type = types.PartitionTypeEFI },
			"exactly one EFI",
		},
		{
			"two rest partitions on one disk",
			func(tm *types.Template) { tm.PartitionLayout[1].Size = types.SizeRest },
			`at most one "rest"`,
		},
		{
			"rest partition not last",
			func(tm *types.Template) {
				tm.PartitionLayout[1].Size = types.SizeRest
				tm.PartitionLayout[2].Size = "4G"
			},
			"last",
		},
		{
			"partition numbers with a gap",
			func(tm *types.Template) {
				tm.PartitionLayout[2].Partition = 5
				tm.FilesystemTypes[2].Partition = 5
				tm.PartitionMountPoints[1].Partition = 5
			},
			"consecutive",
		},
		{
			"duplicate layout entry",
			func(tm *types.Template) {
				tm.PartitionLayout[1] = tm.PartitionLayout[0]
			},
			"Duplicate",
		},
		{
			"unknown filesystem type",
			func(tm *types.Template) { tm.FilesystemTypes[2].Type = "zfs" },
			"supported values",
		},
		{
			"duplicate filesystem entry",
			func(tm *types.Template) { tm.FilesystemTypes[1] = tm.FilesystemTypes[0] },
			"Duplicate",
		},
		{
			"layout without mount points",
			func(tm *types.Template) { tm.PartitionMountPoints = nil },
			"not installable",
		},
		{
			"no root mount",
			func(tm *types.Template) { tm.PartitionMountPoints[1].Mount = "/srv" },
			"must include /",
		},
		{
			"relative mount path",
			func(tm *types.Template) { tm.PartitionMountPoints[0].Mount = "boot" },
			"absolute",
		},
		{
			"duplicate mount path",
			func(tm *types.Template) { tm.PartitionMountPoints[0].Mount = "/" },
			"Duplicate",
		},
		{
			"user without name",
			func(tm *types.Template) { tm.Users = []types.User{{}} },
			"username",
		},
		{
			"duplicate username",
			func(tm *types.Template) {
				tm.Users = []types.User{{Username: "admin"}, {Username: "admin"}}
			},
			"Duplicate",
		},
		{
			"duplicate uid",
			func(tm *types.Template) {
				tm.Users = []types.User{{Username: "a", UID: 1001}, {Username: "b", UID: 1001}}
			},
			"Duplicate",
		},
		{
			"unsupported sudo value",
			func(tm *types.Template) {
				tm.Users = []types.User{{Username: "admin", Sudo: "nopasswd"}}
			},
			"supported values",
		},
		{
			"unknown package manager",
			func(tm *types.Template) {
				tm.PostInstallPackages = []types.Package{{Manager: "yum", Scope: "single", Name: "vim"}}
			},
			"supported values",
		},
		{
			"apt group scope",
			func(tm *types.Template) {
				tm.PostInstallPackages = []types.Package{{Manager: "apt", Scope: "group", Name: "editors"}}
			},
			"apt does not support",
		},
		{
			"package without name",
			func(tm *types.Template) {
				tm.PostInstallPackages = []types.Package{{Manager: "dnf", Scope: "single"}}
			},
			"name",
		},
		{
			"relative script path",
			func(tm *types.Template) { tm.PostChroot = []string{"setup.sh"} },
			"absolute",
		},
		{
			"raid setup without mode",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSupport = ""
			},
			"RaidSupport",
		},
		{
			"unknown raid mode",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSupport = "raid5"
			},
			"supported values",
		},
		{
			"array with one member",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup[0].MemberPartitions = tm.RaidSetup[0].MemberPartitions[:1]
			},
			"at least two members",
		},
		{
			"result device with dev prefix",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup[0].ResultDevice = "/dev/md0"
			},
			"bare device name",
		},
		{
			"member listed twice in one array",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup[0].MemberPartitions[1] = tm.RaidSetup[0].MemberPartitions[0]
			},
			"Duplicate",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tm := validTemplate()
			tc.mutate(tm)
			err := Validate(tm)
			require.Error(t, err)
			require.Equal(t, oserrors.CategorySchema, oserrors.CategoryOf(err))
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidateReferenceRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.Template)
		message string
	}{
		{
			"filesystem on absent partition",
			func(tm *types.Template) {
				tm.FilesystemTypes = append(tm.FilesystemTypes, types.Filesystem{Disk: "sdb", Partition: 1, Type: "ext4"})
			},
			"sdb partition 1",
		},
		{
			"mount without filesystem",
			func(tm *types.Template) {
				tm.PartitionMountPoints = append(tm.PartitionMountPoints, types.MountPoint{Disk: "sdb", Partition: 1, Mount: "/data"})
			},
			"sdb partition 1",
		},
		{
			"mount on swap filesystem",
			func(tm *types.Template) {
				tm.PartitionMountPoints = append(tm.PartitionMountPoints, types.MountPoint{Disk: "sda", Partition: 2, Mount: "/swap"})
			},
			"swap filesystems cannot carry a mount point",
		},
		{
			"filesystem on raid member",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.FilesystemTypes = append(tm.FilesystemTypes, types.Filesystem{Disk: "sdb", Partition: 1, Type: "ext4"})
			},
			"cannot carry its own filesystem",
		},
		{
			"mount on raid member",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.PartitionMountPoints = append(tm.PartitionMountPoints, types.MountPoint{Disk: "sdb", Partition: 1, Mount: "/mnt"})
			},
			"cannot carry a mount point",
		},
		{
			"member outside the layout",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup[0].MemberPartitions[1] = types.PartitionRef{Disk: "sdc", Partition: 1}
			},
			"sdc partition 1",
		},
		{
			"member shared between arrays",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup = append(tm.RaidSetup, types.RaidArray{
					Name:         "cache",
					ResultDevice: "md1",
					MemberPartitions: []types.PartitionRef{
						{Disk: "sdb", Partition: 1},
						{Disk: "sdb", Partition: 2},
					},
				})
			},
			"already belongs to array data",
		},
		{
			"result device named like a disk",
			func(tm *types.Template) {
				*tm = *raidTemplate()
				tm.RaidSetup[0].ResultDevice = "sdb"
				tm.FilesystemTypes[3] = types.Filesystem{Disk: "sdb", Partition: 0, Type: "ext4"}
				tm.PartitionMountPoints[2] = types.MountPoint{Disk: "sdb", Partition: 0, Mount: "/data"}
			},
			"collides with a physical disk name",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tm := validTemplate()
			tc.mutate(tm)
			err := Validate(tm)
			require.Error(t, err)
			require.Equal(t, oserrors.CategoryReference, oserrors.CategoryOf(err))
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

// A template broken in both passes reports the structural problem, not
// the dangling reference.
func TestValidateSchemaWinsOverReferences(t *testing.T) {
	tm := validTemplate()
	tm.PartitionLayout[0].Size = "lots"
	tm.FilesystemTypes = append(tm.FilesystemTypes, types.Filesystem{Disk: "sdb", Partition: 1, Type: "ext4"})

	err := Validate(tm)
	require.Error(t, err)
	require.Equal(t, oserrors.CategorySchema, oserrors.CategoryOf(err))
}
