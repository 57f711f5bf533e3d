package types

// Template describes one unattended installation. The document is JSON:
//
//	{
//	  "ImageSourceType": "local",
//	  "ImageSourceLocation": "file:///images/os.img.xz",
//	  "PartitionLayout": [
//	    {"disk": "sda", "partition": 1, "size": "512M", "type": "EFI"},
//	    {"disk": "sda", "partition": 2, "size": "rest", "type": "linux"}
//	  ],
//	  "FilesystemTypes": [
//	    {"disk": "sda", "partition": 1, "type": "vfat"},
//	    {"disk": "sda", "partition": 2, "type": "ext4"}
//	  ],
//	  "PartitionMountPoints": [
//	    {"disk": "sda", "partition": 1, "mount": "/boot"},
//	    {"disk": "sda", "partition": 2, "mount": "/"}
//	  ],
//	  "Users": [{"username": "admin", "key": "http://keys/admin.pub", "uid": 1001, "sudo": "password"}],
//	  "PostInstallPackages": [{"manager": "swupd", "scope": "group", "name": "editors"}],
//	  "PostNonChroot": ["/var/lib/postinstall/report.sh"],
//	  "PostChroot": ["/usr/bin/firstboot-prep.sh"]
//	}
//
// ImageSourceType and ImageSourceLocation are mandatory; every other
// section is optional with a documented default. A filesystem or mount
// on a RAID result device references it by the array's resultDevice as
// the disk with partition 0.
type Template struct {
	ImageSourceType      string       `json:"ImageSourceType"`
	ImageSourceLocation  string       `json:"ImageSourceLocation"`
	PartitionLayout      []Partition  `json:"PartitionLayout,omitempty"`
	FilesystemTypes      []Filesystem `json:"FilesystemTypes,omitempty"`
	PartitionMountPoints []MountPoint `json:"PartitionMountPoints,omitempty"`
	Users                []User       `json:"Users,omitempty"`
	PostInstallPackages  []Package    `json:"PostInstallPackages,omitempty"`
	PostNonChroot        []string     `json:"PostNonChroot,omitempty"`
	PostChroot           []string     `json:"PostChroot,omitempty"`
	RaidSupport          string       `json:"RaidSupport,omitempty"`
	RaidSetup            []RaidArray  `json:"RaidSetup,omitempty"`
}

const (
	ImageSourceLocal  = "local"
	ImageSourceRemote = "remote"

	PartitionTypeEFI   = "EFI"
	PartitionTypeLinux = "linux"
	PartitionTypeSwap  = "swap"

	// SizeRest means the remaining free space on the disk after the
	// other explicit sizes.
	SizeRest = "rest"

	SudoPassword = "password"

	// Assembly modes. Templates accept all three; only md assembles,
	// the others fail at planning.
	RaidModeMD    = "md"
	RaidModeLVM   = "lvm"
	RaidModeBtrfs = "btrfs"

	PackageScopeSingle = "single"
	PackageScopeGroup  = "group"

	PackageManagerSwupd = "swupd"
	PackageManagerDnf   = "dnf"
	PackageManagerApt   = "apt"
)

type Partition struct {
	Disk      string `json:"disk"`
	Partition int    `json:"partition"`
	Size      string `json:"size"` // "512M", "4G", "1T" or "rest"
	Type      string `json:"type"` // EFI, linux, swap
}

type Filesystem struct {
	Disk      string `json:"disk"`
	Partition int    `json:"partition"`
	Type      string `json:"type"`
	Options   string `json:"options,omitempty"` // passed verbatim to the creation tool
}

type MountPoint struct {
	Disk      string `json:"disk"`
	Partition int    `json:"partition"`
	Mount     string `json:"mount"`
	Options   string `json:"options,omitempty"` // fstab options override
}

type User struct {
	Username string `json:"username"`
	Key      string `json:"key,omitempty"` // URI of an ssh public key
	UID      uint32 `json:"uid,omitempty"`
	Sudo     string `json:"sudo,omitempty"`
}

type Package struct {
	Manager string `json:"manager"` // swupd, dnf, apt
	Scope   string `json:"scope"`   // single, group
	Name    string `json:"name"`
}

// RaidArray assembles memberPartitions, in listed order, into one
// virtual block device named resultDevice (like "md0").
type RaidArray struct {
	Name             string         `json:"name"`
	ResultDevice     string         `json:"resultDevice"`
	MemberPartitions []PartitionRef `json:"memberPartitions"`
}

type PartitionRef struct {
	Disk      string `json:"disk"`
	Partition int    `json:"partition"`
}
