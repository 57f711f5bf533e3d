package plan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

func exampleTemplate() *types.Template {
	return &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img.xz",
		PartitionLayout: []types.Partition{
			{Disk: "sda", Partition: 1, Size: "512M", Type: types.PartitionTypeEFI},
			{Disk: "sda", Partition: 2, Size: types.SizeRest, Type: types.PartitionTypeLinux},
		},
		FilesystemTypes: []types.Filesystem{
			{Disk: "sda", Partition: 1, Type: "vfat"},
			{Disk: "sda", Partition: 2, Type: "ext4"},
		},
		PartitionMountPoints: []types.MountPoint{
			{Disk: "sda", Partition: 1, Mount: "/boot"},
			{Disk: "sda", Partition: 2, Mount: "/"},
		},
	}
}

// two 64GiB disks, 65536MiB each
func testDevices() []DeviceInfo {
	return []DeviceInfo{
		{Name: "sda", SizeBytes: 64 << 30},
		{Name: "sdb", SizeBytes: 64 << 30},
	}
}

func TestBuildResolvesExampleLayout(t *testing.T) {
	p, err := Build(exampleTemplate(), testDevices(), 0)
	require.NoError(t, err)

	wantParts := []PartitionPlan{
		{Disk: "sda", Number: 1, StartMiB: 1, EndMiB: 513, Type: types.PartitionTypeEFI, Device: "/dev/sda1"},
		{Disk: "sda", Number: 2, StartMiB: 513, EndMiB: 65535, Type: types.PartitionTypeLinux, Device: "/dev/sda2"},
	}
	require.Empty(t, cmp.Diff(wantParts, p.Partitions))

	wantMounts := []MountPlan{
		{Device: "/dev/sda2", Path: "/"},
		{Device: "/dev/sda1", Path: "/boot"},
	}
	require.Equal(t, wantMounts, p.Mounts)
}

func TestBuildIsDeterministic(t *testing.T) {
	first, err := Build(exampleTemplate(), testDevices(), 0)
	require.NoError(t, err)
	second, err := Build(exampleTemplate(), testDevices(), 0)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(first, second))
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	tmpl := exampleTemplate()
	devices := testDevices()
	_, err := Build(tmpl, devices, 0)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(exampleTemplate(), tmpl))
	require.Empty(t, cmp.Diff(testDevices(), devices))
}

func TestBuildDefaultLayout(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
	}
	devices := []DeviceInfo{
		{Name: "sda", SizeBytes: 64 << 30, InstallerMedium: true},
		{Name: "sdb", SizeBytes: 64 << 30},
	}

	p, err := Build(tmpl, devices, 2<<30)
	require.NoError(t, err)

	wantParts := []PartitionPlan{
		{Disk: "sdb", Number: 1, StartMiB: 1, EndMiB: 513, Type: types.PartitionTypeEFI, Device: "/dev/sdb1"},
		{Disk: "sdb", Number: 2, StartMiB: 513, EndMiB: 2561, Type: types.PartitionTypeSwap, Device: "/dev/sdb2"},
		{Disk: "sdb", Number: 3, StartMiB: 2561, EndMiB: 65535, Type: types.PartitionTypeLinux, Device: "/dev/sdb3"},
	}
	require.Empty(t, cmp.Diff(wantParts, p.Partitions))

	require.Len(t, p.Filesystems, 3)
	require.Equal(t, "none", p.Filesystems[1].Mount)
	require.Equal(t, []MountPlan{
		{Device: "/dev/sdb3", Path: "/"},
		{Device: "/dev/sdb1", Path: "/boot"},
	}, p.Mounts)
}

func TestBuildDefaultLayoutSkipsSwapAboveCeiling(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
	}
	p, err := Build(tmpl, testDevices(), 8<<30)
	require.NoError(t, err)
	require.Len(t, p.Partitions, 2)
	for _, part := range p.Partitions {
		require.NotEqual(t, types.PartitionTypeSwap, part.Type)
	}
}

func TestBuildDefaultLayoutNoInstallableDisk(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
	}
	devices := []DeviceInfo{{Name: "sda", SizeBytes: 64 << 30, InstallerMedium: true}}

	_, err := Build(tmpl, devices, 0)
	require.Error(t, err)
	require.Equal(t, oserrors.CategoryPlan, oserrors.CategoryOf(err))
}

func TestBuildRejectsOversizedPartition(t *testing.T) {
	tmpl := exampleTemplate()
	tmpl.PartitionLayout[0].Size = "70G"

	_, err := Build(tmpl, testDevices(), 0)
	require.Error(t, err)
	require.Equal(t, oserrors.CategoryPlan, oserrors.CategoryOf(err))
	require.Contains(t, err.Error(), "does not fit")
}

func TestBuildRejectsUnknownDisk(t *testing.T) {
	tmpl := exampleTemplate()
	tmpl.PartitionLayout[0].Disk = "sdz"
	tmpl.PartitionLayout[1].Disk = "sdz"

	_, err := Build(tmpl, testDevices(), 0)
	require.Error(t, err)
	require.Equal(t, oserrors.CategoryPlan, oserrors.CategoryOf(err))
	require.Contains(t, err.Error(), "not present")
}

func TestBuildResolvesArrays(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
		PartitionLayout: []types.Partition{
			{Disk: "sda", Partition: 1, Size: "512M", Type: types.PartitionTypeEFI},
			{Disk: "sda", Partition: 2, Size: types.SizeRest, Type: types.PartitionTypeLinux},
			{Disk: "sdb", Partition: 1, Size: types.SizeRest, Type: types.PartitionTypeLinux},
		},
		RaidSupport: types.RaidModeMD,
		RaidSetup: []types.RaidArray{
			{
				Name:         "data",
				ResultDevice: "md0",
				MemberPartitions: []types.PartitionRef{
					{Disk: "sda", Partition: 2},
					{Disk: "sdb", Partition: 1},
				},
			},
		},
		FilesystemTypes: []types.Filesystem{
			{Disk: "sda", Partition: 1, Type: "vfat"},
			{Disk: "md0", Partition: 0, Type: "ext4"},
		},
		PartitionMountPoints: []types.MountPoint{
			{Disk: "sda", Partition: 1, Mount: "/boot"},
			{Disk: "md0", Partition: 0, Mount: "/"},
		},
	}

	p, err := Build(tmpl, testDevices(), 0)
	require.NoError(t, err)

	wantArrays := []ArrayPlan{
		{Name: "data", Mode: types.RaidModeMD, Device: "/dev/md0", Members: []string{"/dev/sda2", "/dev/sdb1"}},
	}
	require.Empty(t, cmp.Diff(wantArrays, p.Arrays))

	require.Equal(t, "/dev/md0", p.Filesystems[1].Device)
	require.Equal(t, []MountPlan{
		{Device: "/dev/md0", Path: "/"},
		{Device: "/dev/sda1", Path: "/boot"},
	}, p.Mounts)
}

func TestBuildRejectsNonMDAssembly(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
		PartitionLayout: []types.Partition{
			{Disk: "sda", Partition: 1, Size: types.SizeRest, Type: types.PartitionTypeLinux},
			{Disk: "sdb", Partition: 1, Size: types.SizeRest, Type: types.PartitionTypeLinux},
		},
		RaidSupport: types.RaidModeLVM,
		RaidSetup: []types.RaidArray{
			{
				Name:         "data",
				ResultDevice: "md0",
				MemberPartitions: []types.PartitionRef{
					{Disk: "sda", Partition: 1},
					{Disk: "sdb", Partition: 1},
				},
			},
		},
		FilesystemTypes:      []types.Filesystem{{Disk: "md0", Partition: 0, Type: "ext4"}},
		PartitionMountPoints: []types.MountPoint{{Disk: "md0", Partition: 0, Mount: "/"}},
	}

	_, err := Build(tmpl, testDevices(), 0)
	require.Error(t, err)
	require.Equal(t, oserrors.CategoryRaid, oserrors.CategoryOf(err))
	require.Contains(t, err.Error(), "only md arrays")
}

func TestBuildSwapGetsFstabNone(t *testing.T) {
	tmpl := exampleTemplate()
	tmpl.PartitionLayout = append(tmpl.PartitionLayout[:1],
		types.Partition{Disk: "sda", Partition: 2, Size: "2G", Type: types.PartitionTypeSwap},
		types.Partition{Disk: "sda", Partition: 3, Size: types.SizeRest, Type: types.PartitionTypeLinux})
	tmpl.FilesystemTypes = []types.Filesystem{
		{Disk: "sda", Partition: 1, Type: "vfat"},
		{Disk: "sda", Partition: 2, Type: "swap"},
		{Disk: "sda", Partition: 3, Type: "ext4"},
	}
	tmpl.PartitionMountPoints = []types.MountPoint{
		{Disk: "sda", Partition: 1, Mount: "/boot"},
		{Disk: "sda", Partition: 3, Mount: "/"},
	}

	p, err := Build(tmpl, testDevices(), 0)
	require.NoError(t, err)
	require.Equal(t, "none", p.Filesystems[1].Mount)
	require.Len(t, p.Mounts, 2)
}

func TestBuildMountOrderIsLexicographic(t *testing.T) {
	tmpl := &types.Template{
		ImageSourceType:     types.ImageSourceLocal,
		ImageSourceLocation: "file:///images/os.img",
		PartitionLayout: []types.Partition{
			{Disk: "sda", Partition: 1, Size: "512M", Type: types.PartitionTypeEFI},
			{Disk: "sda", Partition: 2, Size: "1G", Type: types.PartitionTypeLinux},
			{Disk: "sda", Partition: 3, Size: "8G", Type: types.PartitionTypeLinux},
			{Disk: "sda", Partition: 4, Size: types.SizeRest, Type: types.PartitionTypeLinux},
		},
		FilesystemTypes: []types.Filesystem{
			{Disk: "sda", Partition: 1, Type: "vfat"},
			{Disk: "sda", Partition: 2, Type: "ext4"},
			{Disk: "sda", Partition: 3, Type: "ext4"},
			{Disk: "sda", Partition: 4, Type: "ext4"},
		},
		PartitionMountPoints: []types.MountPoint{
			{Disk: "sda", Partition: 3, Mount: "/var"},
			{Disk: "sda", Partition: 1, Mount: "/boot/efi"},
			{Disk: "sda", Partition: 4, Mount: "/"},
			{Disk: "sda", Partition: 2, Mount: "/boot"},
		},
	}

	p, err := Build(tmpl, testDevices(), 0)
	require.NoError(t, err)

	paths := make([]string, 0, len(p.Mounts))
	for _, m := range p.Mounts {
		paths = append(paths, m.Path)
	}
	require.Equal(t, []string{"/", "/boot", "/boot/efi", "/var"}, paths)
}

func TestToMiB(t *testing.T) {
	require.Equal(t, int64(512), ToMiB("512M"))
	require.Equal(t, int64(4096), ToMiB("4G"))
	require.Equal(t, int64(1048576), ToMiB("1T"))
}

func TestBytesToMiB(t *testing.T) {
	require.Equal(t, int64(65536), BytesToMiB(64<<30))
	require.Equal(t, int64(0), BytesToMiB(1<<19))
}
