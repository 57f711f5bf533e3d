package template

import (
	"fmt"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation/field"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

var sizePattern = regexp.MustCompile(`^[0-9]+[MGT]$`)

var (
	imageSourceTypes = []string{types.ImageSourceLocal, types.ImageSourceRemote}
	partitionTypes   = []string{types.PartitionTypeEFI, types.PartitionTypeLinux, types.PartitionTypeSwap}
	filesystemTypes  = []string{"ext2", "ext3", "ext4", "btrfs", "xfs", "vfat", "swap"}
	packageManagers  = []string{types.PackageManagerSwupd, types.PackageManagerDnf, types.PackageManagerApt}
	packageScopes    = []string{types.PackageScopeSingle, types.PackageScopeGroup}
	raidModes        = []string{types.RaidModeMD, types.RaidModeLVM, types.RaidModeBtrfs}
)

// Validate checks the template's structure first and its cross-section
// references second; the first failing pass decides the error
// category. No device I/O happens here.
func Validate(t *types.Template) error {
	if errs := validateSchema(t); len(errs) > 0 {
		return oserrors.New(oserrors.CategorySchema, errs.ToAggregate())
	}
	if errs := validateReferences(t); len(errs) > 0 {
		return oserrors.New(oserrors.CategoryReference, errs.ToAggregate())
	}
	return nil
}

func validateSchema(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	allErrs = append(allErrs, validateImageSource(t)...)
	allErrs = append(allErrs, validateLayout(t)...)
	allErrs = append(allErrs, validateFilesystemSection(t)...)
	allErrs = append(allErrs, validateMountSection(t)...)
	allErrs = append(allErrs, validateUsers(t.Users)...)
	allErrs = append(allErrs, validatePackages(t.PostInstallPackages)...)
	allErrs = append(allErrs, validateScripts("PostNonChroot", t.PostNonChroot)...)
	allErrs = append(allErrs, validateScripts("PostChroot", t.PostChroot)...)
	allErrs = append(allErrs, validateRaidSchema(t)...)
	return allErrs
}

func validateImageSource(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	if t.ImageSourceType == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("ImageSourceType"), ""))
	} else if !contains(imageSourceTypes, t.ImageSourceType) {
		allErrs = append(allErrs, field.NotSupported(field.NewPath("ImageSourceType"), t.ImageSourceType, imageSourceTypes))
	}
	if t.ImageSourceLocation == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("ImageSourceLocation"), ""))
	}
	return allErrs
}

func validateLayout(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("PartitionLayout")
	if len(t.PartitionLayout) == 0 {
		if len(t.FilesystemTypes) > 0 || len(t.PartitionMountPoints) > 0 {
			allErrs = append(allErrs, field.Required(path, "required when FilesystemTypes or PartitionMountPoints are present"))
		}
		return allErrs
	}

	seen := make(map[types.PartitionRef]bool)
	efiCount := 0
	diskOrder := make([]string, 0, 1)
	perDisk := make(map[string][]types.Partition)
	for i, part := range t.PartitionLayout {
		idx := path.Index(i)
		if part.Disk == "" {
			allErrs = append(allErrs, field.Required(idx.Child("disk"), ""))
		}
		if part.Partition <= 0 {
			allErrs = append(allErrs, field.Invalid(idx.Child("partition"), part.Partition, "must be a positive index"))
		}
		if part.Size != types.SizeRest && !sizePattern.MatchString(part.Size) {
			allErrs = append(allErrs, field.Invalid(idx.Child("size"), part.Size, `must look like "512M", "4G", "1T" or "rest"`))
		}
		if !contains(partitionTypes, part.Type) {
			allErrs = append(allErrs, field.NotSupported(idx.Child("type"), part.Type, partitionTypes))
		}
		ref := types.PartitionRef{Disk: part.Disk, Partition: part.Partition}
		if seen[ref] {
			allErrs = append(allErrs, field.Duplicate(idx, refString(ref)))
		}
		seen[ref] = true
		if part.Type == types.PartitionTypeEFI {
			efiCount++
		}
		if _, known := perDisk[part.Disk]; !known {
			diskOrder = append(diskOrder, part.Disk)
		}
		perDisk[part.Disk] = append(perDisk[part.Disk], part)
	}

	if efiCount != 1 {
		allErrs = append(allErrs, field.Invalid(path, efiCount, "exactly one EFI partition is required"))
	}

	for _, disk := range diskOrder {
		parts := perDisk[disk]
		rests, maxNum, restNum := 0, 0, 0
		nums := make(map[int]bool, len(parts))
		for _, part := range parts {
			if part.Size == types.SizeRest {
				rests++
				restNum = part.Partition
			}
			if part.Partition > maxNum {
				maxNum = part.Partition
			}
			nums[part.Partition] = true
		}
		if rests > 1 {
			allErrs = append(allErrs, field.Invalid(path, disk, `at most one "rest" sized partition per disk`))
		}
		if rests == 1 && restNum != maxNum {
			allErrs = append(allErrs, field.Invalid(path, disk, `the "rest" sized partition must be the disk's last`))
		}
		for n := 1; n <= len(parts); n++ {
			if !nums[n] {
				allErrs = append(allErrs, field.Invalid(path, disk, "partition numbers must be consecutive starting at 1"))
				break
			}
		}
	}
	return allErrs
}

func validateFilesystemSection(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("FilesystemTypes")
	seen := make(map[types.PartitionRef]bool)
	for i, fs := range t.FilesystemTypes {
		idx := path.Index(i)
		if fs.Disk == "" {
			allErrs = append(allErrs, field.Required(idx.Child("disk"), ""))
		}
		if fs.Partition < 0 {
			allErrs = append(allErrs, field.Invalid(idx.Child("partition"), fs.Partition, "must not be negative"))
		}
		if !contains(filesystemTypes, fs.Type) {
			allErrs = append(allErrs, field.NotSupported(idx.Child("type"), fs.Type, filesystemTypes))
		}
		ref := types.PartitionRef{Disk: fs.Disk, Partition: fs.Partition}
		if seen[ref] {
			allErrs = append(allErrs, field.Duplicate(idx, refString(ref)))
		}
		seen[ref] = true
	}
	return allErrs
}

func validateMountSection(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("PartitionMountPoints")
	if len(t.PartitionLayout) > 0 && len(t.PartitionMountPoints) == 0 {
		allErrs = append(allErrs, field.Required(path, "a layout without mount points is not installable"))
		return allErrs
	}

	rootSeen := false
	seenPaths := make(map[string]bool)
	seenRefs := make(map[types.PartitionRef]bool)
	for i, m := range t.PartitionMountPoints {
		idx := path.Index(i)
		if m.Disk == "" {
			allErrs = append(allErrs, field.Required(idx.Child("disk"), ""))
		}
		if m.Mount == "" {
			allErrs = append(allErrs, field.Required(idx.Child("mount"), ""))
		} else if !strings.HasPrefix(m.Mount, "/") {
			allErrs = append(allErrs, field.Invalid(idx.Child("mount"), m.Mount, "must be an absolute path"))
		}
		if seenPaths[m.Mount] {
			allErrs = append(allErrs, field.Duplicate(idx.Child("mount"), m.Mount))
		}
		seenPaths[m.Mount] = true
		ref := types.PartitionRef{Disk: m.Disk, Partition: m.Partition}
		if seenRefs[ref] {
			allErrs = append(allErrs, field.Duplicate(idx, refString(ref)))
		}
		seenRefs[ref] = true
		if m.Mount == "/" {
			rootSeen = true
		}
	}
	if len(t.PartitionMountPoints) > 0 && !rootSeen {
		allErrs = append(allErrs, field.Invalid(path, "", "the mount set must include /"))
	}
	return allErrs
}

func validateUsers(users []types.User) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("Users")
	seenNames := make(map[string]bool)
	seenUIDs := make(map[uint32]bool)
	for i, user := range users {
		idx := path.Index(i)
		if user.Username == "" {
			allErrs = append(allErrs, field.Required(idx.Child("username"), ""))
		} else if seenNames[user.Username] {
			allErrs = append(allErrs, field.Duplicate(idx.Child("username"), user.Username))
		}
		seenNames[user.Username] = true
		if user.UID != 0 {
			if seenUIDs[user.UID] {
				allErrs = append(allErrs, field.Duplicate(idx.Child("uid"), user.UID))
			}
			seenUIDs[user.UID] = true
		}
		if user.Sudo != "" && user.Sudo != types.SudoPassword {
			allErrs = append(allErrs, field.NotSupported(idx.Child("sudo"), user.Sudo, []string{types.SudoPassword}))
		}
	}
	return allErrs
}

func validatePackages(packages []types.Package) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("PostInstallPackages")
	for i, pkg := range packages {
		idx := path.Index(i)
		if !contains(packageManagers, pkg.Manager) {
			allErrs = append(allErrs, field.NotSupported(idx.Child("manager"), pkg.Manager, packageManagers))
		}
		if !contains(packageScopes, pkg.Scope) {
			allErrs = append(allErrs, field.NotSupported(idx.Child("scope"), pkg.Scope, packageScopes))
		}
		if pkg.Manager == types.PackageManagerApt && pkg.Scope == types.PackageScopeGroup {
			allErrs = append(allErrs, field.Invalid(idx.Child("scope"), pkg.Scope, "apt does not support package groups"))
		}
		if pkg.Name == "" {
			allErrs = append(allErrs, field.Required(idx.Child("name"), ""))
		}
	}
	return allErrs
}

func validateScripts(section string, scripts []string) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath(section)
	for i, script := range scripts {
		if script == "" {
			allErrs = append(allErrs, field.Required(path.Index(i), ""))
		} else if !strings.HasPrefix(script, "/") {
			allErrs = append(allErrs, field.Invalid(path.Index(i), script, "must be an absolute path"))
		}
	}
	return allErrs
}

func validateRaidSchema(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}
	path := field.NewPath("RaidSetup")
	if len(t.RaidSetup) > 0 && t.RaidSupport == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("RaidSupport"), "required when RaidSetup is present"))
	}
	if t.RaidSupport != "" && !contains(raidModes, t.RaidSupport) {
		allErrs = append(allErrs, field.NotSupported(field.NewPath("RaidSupport"), t.RaidSupport, raidModes))
	}

	seenNames := make(map[string]bool)
	seenResults := make(map[string]bool)
	for i, arr := range t.RaidSetup {
		idx := path.Index(i)
		if arr.Name == "" {
			allErrs = append(allErrs, field.Required(idx.Child("name"), ""))
		} else if seenNames[arr.Name] {
			allErrs = append(allErrs, field.Duplicate(idx.Child("name"), arr.Name))
		}
		seenNames[arr.Name] = true
		if arr.ResultDevice == "" {
			allErrs = append(allErrs, field.Required(idx.Child("resultDevice"), ""))
		} else {
			if strings.HasPrefix(arr.ResultDevice, "/dev/") {
				allErrs = append(allErrs, field.Invalid(idx.Child("resultDevice"), arr.ResultDevice, `a bare device name like "md0"`))
			}
			if seenResults[arr.ResultDevice] {
				allErrs = append(allErrs, field.Duplicate(idx.Child("resultDevice"), arr.ResultDevice))
			}
			seenResults[arr.ResultDevice] = true
		}
		if len(arr.MemberPartitions) < 2 {
			allErrs = append(allErrs, field.Invalid(idx.Child("memberPartitions"), len(arr.MemberPartitions), "an array needs at least two members"))
		}
		seenMembers := make(map[types.PartitionRef]bool)
		for j, ref := range arr.MemberPartitions {
			if seenMembers[ref] {
				allErrs = append(allErrs, field.Duplicate(idx.Child("memberPartitions").Index(j), refString(ref)))
			}
			seenMembers[ref] = true
		}
	}
	return allErrs
}

// validateReferences cross-checks the sections against each other:
// every reference must land on a planned partition or an array result
// device, and RAID members must stay bare.
func validateReferences(t *types.Template) field.ErrorList {
	allErrs := field.ErrorList{}

	layout := make(map[types.PartitionRef]bool)
	diskNames := make(map[string]bool)
	for _, part := range t.PartitionLayout {
		layout[types.PartitionRef{Disk: part.Disk, Partition: part.Partition}] = true
		diskNames[part.Disk] = true
	}
	arrays := make(map[string]bool)
	for _, arr := range t.RaidSetup {
		arrays[arr.ResultDevice] = true
	}

	members := make(map[types.PartitionRef]string)
	raidPath := field.NewPath("RaidSetup")
	for i, arr := range t.RaidSetup {
		if diskNames[arr.ResultDevice] {
			allErrs = append(allErrs, field.Invalid(raidPath.Index(i).Child("resultDevice"), arr.ResultDevice, "collides with a physical disk name"))
		}
		for j, ref := range arr.MemberPartitions {
			mp := raidPath.Index(i).Child("memberPartitions").Index(j)
			if !layout[ref] {
				allErrs = append(allErrs, field.NotFound(mp, refString(ref)))
			}
			if owner, shared := members[ref]; shared {
				allErrs = append(allErrs, field.Duplicate(mp, fmt.Sprintf("%s already belongs to array %s", refString(ref), owner)))
			} else {
				members[ref] = arr.Name
			}
		}
	}

	fsTypes := make(map[types.PartitionRef]string)
	fsPath := field.NewPath("FilesystemTypes")
	for i, fs := range t.FilesystemTypes {
		ref := types.PartitionRef{Disk: fs.Disk, Partition: fs.Partition}
		if owner, isMember := members[ref]; isMember {
			allErrs = append(allErrs, field.Forbidden(fsPath.Index(i),
				fmt.Sprintf("%s is a member of array %s and cannot carry its own filesystem", refString(ref), owner)))
			continue
		}
		onArray := arrays[fs.Disk] && fs.Partition == 0
		if !layout[ref] && !onArray {
			allErrs = append(allErrs, field.NotFound(fsPath.Index(i), refString(ref)))
			continue
		}
		fsTypes[ref] = fs.Type
	}

	mountPath := field.NewPath("PartitionMountPoints")
	for i, m := range t.PartitionMountPoints {
		ref := types.PartitionRef{Disk: m.Disk, Partition: m.Partition}
		if owner, isMember := members[ref]; isMember {
			allErrs = append(allErrs, field.Forbidden(mountPath.Index(i),
				fmt.Sprintf("%s is a member of array %s and cannot carry a mount point", refString(ref), owner)))
			continue
		}
		fsType, hasFS := fsTypes[ref]
		if !hasFS {
			allErrs = append(allErrs, field.NotFound(mountPath.Index(i), refString(ref)))
			continue
		}
		if fsType == types.PartitionTypeSwap {
			allErrs = append(allErrs, field.Forbidden(mountPath.Index(i).Child("mount"), "swap filesystems cannot carry a mount point"))
		}
	}
	return allErrs
}

func refString(ref types.PartitionRef) string {
	return fmt.Sprintf("%s partition %d", ref.Disk, ref.Partition)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
