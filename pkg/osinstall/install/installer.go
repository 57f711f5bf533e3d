// Package install drives one installation run through its states and
// wires the component executors together.
package install

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/kubemetalio/osinstall/pkg/osinstall/boot"
	"github.com/kubemetalio/osinstall/pkg/osinstall/config"
	"github.com/kubemetalio/osinstall/pkg/osinstall/device"
	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/fs"
	"github.com/kubemetalio/osinstall/pkg/osinstall/mount"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/osinstall/postinstall"
	"github.com/kubemetalio/osinstall/pkg/osinstall/raid"
	osync "github.com/kubemetalio/osinstall/pkg/osinstall/sync"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// State names one phase of an installation run.
type State string

const (
	StateValidating      State = "Validating"
	StatePlanning        State = "Planning"
	StatePartitioning    State = "Partitioning"
	StateAssemblingRAID  State = "AssemblingRAID"
	StateFormatting      State = "Formatting"
	StateMounting        State = "Mounting"
	StateSyncing         State = "Syncing"
	StateConfiguringBoot State = "ConfiguringBoot"
	StatePostInstall     State = "PostInstall"
	StateComplete        State = "Complete"
	StateFailed          State = "Failed"
)

// successor is the only legal forward step out of each state. The
// machine never moves backwards, a failure goes to Failed from
// anywhere.
var successor = map[State]State{
	StateValidating:      StatePlanning,
	StatePlanning:        StatePartitioning,
	StatePartitioning:    StateAssemblingRAID,
	StateAssemblingRAID:  StateFormatting,
	StateFormatting:      StateMounting,
	StateMounting:        StateSyncing,
	StateSyncing:         StateConfiguringBoot,
	StateConfiguringBoot: StatePostInstall,
	StatePostInstall:     StateComplete,
}

// Request is one installation order.
type Request struct {
	TemplateLocation string
	// ImageOverride replaces the template's image source location.
	ImageOverride string
	// DryRun stops the run after planning, before any device is
	// touched.
	DryRun bool
	// Skeleton syncs the directory structure only, no file content.
	Skeleton bool
}

// Installer owns the state machine of a run. The stateful components
// live on the struct so cleanup can reach them, the stateless ones are
// created where they run.
type Installer struct {
	runner  util.CommandRunner
	fetcher *template.Fetcher
	cfg     *config.Config

	mounter   *mount.Mounter
	image     *mount.ImageMounter
	assembler *raid.Assembler
	lockDisks func(disks []string) (*device.Locker, error)

	state         State
	lastCompleted State
}

func New(runner util.CommandRunner, fetcher *template.Fetcher, cfg *config.Config) *Installer {
	return &Installer{
		runner:    runner,
		fetcher:   fetcher,
		cfg:       cfg,
		mounter:   mount.NewMounter(runner),
		image:     mount.NewImageMounter(runner, cfg.NBDDevice),
		assembler: raid.NewAssembler(runner),
		lockDisks: device.LockDisks,
		state:     StateValidating,
	}
}

func (inst *Installer) State() State {
	return inst.state
}

// Run executes one installation. On failure the returned error carries
// the component category and the last completed state, and everything
// the run mounted, attached or assembled is torn down again. Cleanup
// also runs on success so the machine is ready to reboot.
func (inst *Installer) Run(ctx context.Context, req Request) error {
	klog.Infof("State [%s]", inst.state)
	tmpl, imagePath, err := inst.validate(ctx, req)
	if err != nil {
		return inst.fail(err)
	}
	inst.advance()

	p, err := inst.buildPlan(ctx, tmpl)
	if err != nil {
		return inst.fail(err)
	}
	if req.DryRun {
		klog.Infof("Dry run requested, stopping before any device is touched")
		return nil
	}

	// Point of no return. The disks stay locked for the rest of the
	// run and every step from here mutates them.
	locker, err := inst.lockDisks(diskNames(p))
	if err != nil {
		return inst.fail(oserrors.New(oserrors.CategoryDevice, err))
	}
	defer locker.Release()
	defer inst.cleanup()
	inst.advance()

	records, err := device.NewPartitioner(inst.runner).Apply(ctx, p)
	if err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := inst.assembler.Assemble(ctx, p.Arrays); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := fs.NewFormatter(inst.runner).Format(ctx, p.Filesystems); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := inst.mountAll(ctx, p, imagePath); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := osync.NewSyncer(inst.runner).Copy(ctx, inst.cfg.SourceDir, inst.cfg.TargetDir, req.Skeleton); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := inst.configureBoot(ctx, p, records); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	if err := inst.postInstall(ctx, tmpl); err != nil {
		return inst.fail(err)
	}
	inst.advance()

	klog.Infof("Installation complete")
	return nil
}

func (inst *Installer) advance() {
	inst.lastCompleted = inst.state
	inst.state = successor[inst.state]
	klog.Infof("State [%s]", inst.state)
}

func (inst *Installer) fail(err error) error {
	inst.state = StateFailed
	return oserrors.WithState(err, string(inst.lastCompleted))
}

// validate loads, verifies and parses the template, then checks it
// against the schema while the image is fetched and checksummed.
func (inst *Installer) validate(ctx context.Context, req Request) (*types.Template, string, error) {
	location := req.TemplateLocation
	klog.Infof("Start to validate template [%s]", location)
	raw, err := template.Load(ctx, location, inst.fetcher)
	if err != nil {
		return nil, "", err
	}
	if err := template.VerifySidecar(ctx, location, raw, inst.fetcher); err != nil {
		return nil, "", err
	}
	tmpl, err := template.Parse(raw)
	if err != nil {
		return nil, "", err
	}
	if req.ImageOverride != "" {
		klog.Infof("Image source overridden to [%s]", req.ImageOverride)
		tmpl.ImageSourceLocation = req.ImageOverride
		tmpl.ImageSourceType = types.ImageSourceLocal
		if strings.HasPrefix(req.ImageOverride, "http://") || strings.HasPrefix(req.ImageOverride, "https://") {
			tmpl.ImageSourceType = types.ImageSourceRemote
		}
	}

	if err := os.MkdirAll(inst.cfg.ScratchDir, 0755); err != nil {
		return nil, "", errors.Wrapf(err, "create %s", inst.cfg.ScratchDir)
	}

	// The image fetch and checksum overlap the template validation.
	var imagePath string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return template.Validate(tmpl)
	})
	g.Go(func() error {
		path, err := inst.prepareImage(gctx, tmpl)
		if err != nil {
			return err
		}
		imagePath = path
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	klog.Infof("Succeed to validate template [%s]", location)
	return tmpl, imagePath, nil
}

// prepareImage makes the source image available as a local file and
// verifies it against its checksum sidecar.
func (inst *Installer) prepareImage(ctx context.Context, tmpl *types.Template) (string, error) {
	location := tmpl.ImageSourceLocation
	local := strings.TrimPrefix(location, "file://")
	if tmpl.ImageSourceType == types.ImageSourceRemote {
		local = filepath.Join(inst.cfg.ScratchDir, remoteBase(location))
		klog.Infof("Start to fetch image [%s]", location)
		if err := inst.fetcher.GetFile(ctx, location, local); err != nil {
			return "", errors.Wrapf(err, "fetch image %s", location)
		}
		klog.Infof("Succeed to fetch image [%s]", location)
	}
	if err := template.VerifyFile(ctx, local, location, inst.fetcher); err != nil {
		return "", err
	}
	return local, nil
}

func remoteBase(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return "image"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "image"
	}
	return base
}

func (inst *Installer) buildPlan(ctx context.Context, tmpl *types.Template) (*plan.Plan, error) {
	disks, err := device.ListDisks(ctx, inst.runner)
	if err != nil {
		return nil, oserrors.New(oserrors.CategoryDevice, err)
	}
	p, err := plan.Build(tmpl, device.PlannerInputs(disks), device.MemoryBytes())
	if err != nil {
		return nil, err
	}
	logPlan(p)
	return p, nil
}

func logPlan(p *plan.Plan) {
	for _, part := range p.Partitions {
		klog.Infof("Plan partition [%s] %d..%dMiB type %s", part.Device, part.StartMiB, part.EndMiB, part.Type)
	}
	for _, arr := range p.Arrays {
		klog.Infof("Plan array [%s] %s from %v", arr.Name, arr.Device, arr.Members)
	}
	for _, f := range p.Filesystems {
		klog.Infof("Plan filesystem [%s] %s mount %s", f.Device, f.Type, f.Mount)
	}
}

// diskNames collects the physical disks the plan touches, in first
// appearance order.
func diskNames(p *plan.Plan) []string {
	seen := map[string]bool{}
	disks := make([]string, 0)
	for _, part := range p.Partitions {
		if !seen[part.Disk] {
			seen[part.Disk] = true
			disks = append(disks, part.Disk)
		}
	}
	return disks
}

func (inst *Installer) mountAll(ctx context.Context, p *plan.Plan, imagePath string) error {
	for _, dir := range []string{inst.cfg.TargetDir, inst.cfg.SourceDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return oserrors.New(oserrors.CategoryMount, errors.Wrapf(err, "create %s", dir))
		}
	}
	if err := inst.mounter.MountTargets(ctx, inst.cfg.TargetDir, p.Mounts); err != nil {
		return err
	}
	staged, err := inst.image.Stage(ctx, imagePath, inst.cfg.ScratchDir)
	if err != nil {
		return err
	}
	return inst.image.MountSource(ctx, staged, inst.cfg.SourceDir)
}

func (inst *Installer) configureBoot(ctx context.Context, p *plan.Plan, records []*plan.PartitionRecord) error {
	entries, err := boot.NewResolver(inst.runner).Resolve(ctx, p, records)
	if err != nil {
		return err
	}
	if err := boot.WriteFstab(inst.cfg.TargetDir, entries); err != nil {
		return err
	}
	rootUUID := ""
	for _, e := range entries {
		if e.Mount == "/" {
			rootUUID = e.UUID
		}
	}
	if rootUUID == "" {
		return oserrors.Newf(oserrors.CategoryResolution, "no root filesystem among the resolved entries")
	}
	return boot.RewriteLoaderEntries(inst.cfg.TargetDir, rootUUID)
}

func (inst *Installer) postInstall(ctx context.Context, tmpl *types.Template) error {
	target := inst.cfg.TargetDir
	if err := postinstall.WriteMachineID(target); err != nil {
		return err
	}
	exec := postinstall.NewExecutor(inst.runner, inst.fetcher)
	if err := exec.CreateUsers(ctx, tmpl.Users, target); err != nil {
		return err
	}
	if err := exec.InstallPackages(ctx, tmpl.PostInstallPackages, target); err != nil {
		return err
	}
	if err := exec.RunNonChrootScripts(ctx, tmpl.PostNonChroot, target); err != nil {
		return err
	}
	return exec.RunChrootScripts(ctx, tmpl.PostChroot, target)
}

// cleanup tears down whatever the run left mounted, attached or
// assembled. It takes a fresh context so a canceled install still
// cleans up.
func (inst *Installer) cleanup() {
	ctx := context.Background()
	inst.mounter.UnmountAll(ctx)
	inst.image.Detach(ctx)
	inst.assembler.StopAll(ctx)
}
