package mount

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// ImageMounter stages the source image and attaches it read-only:
// images carrying a partition table go through qemu-nbd, bare
// filesystem images mount as a loop device.
type ImageMounter struct {
	runner    util.CommandRunner
	nbdDevice string
	settle    time.Duration
	attached  bool
	mounts    []string
}

func NewImageMounter(runner util.CommandRunner, nbdDevice string) *ImageMounter {
	if nbdDevice == "" {
		nbdDevice = "nbd0"
	}
	return &ImageMounter{runner: runner, nbdDevice: nbdDevice, settle: 2 * time.Second}
}

// Stage materializes the image as an uncompressed file under
// scratchDir. xz images go through the xz tool, gzip images are
// decompressed in-process, anything else is used as-is.
func (im *ImageMounter) Stage(ctx context.Context, location, scratchDir string) (string, error) {
	path := strings.TrimPrefix(location, "file://")
	if _, err := os.Stat(path); err != nil {
		return "", oserrors.New(oserrors.CategoryMount, errors.Wrapf(err, "source image %s not found", path))
	}
	switch {
	case strings.HasSuffix(path, ".xz"):
		staged := filepath.Join(scratchDir, "source.img")
		klog.V(4).Infof("Extract [%s] to [%s]", path, staged)
		if _, err := im.runner.RunUnbounded(ctx, fmt.Sprintf("xz -dc %s > %s", path, staged)); err != nil {
			return "", oserrors.New(oserrors.CategoryMount, errors.Wrap(err, "Failed to extract source image"))
		}
		return staged, nil
	case strings.HasSuffix(path, ".gz"):
		staged := filepath.Join(scratchDir, "source.img")
		klog.V(4).Infof("Extract [%s] to [%s]", path, staged)
		if err := gunzipFile(path, staged); err != nil {
			return "", oserrors.New(oserrors.CategoryMount, err)
		}
		return staged, nil
	}
	return path, nil
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	zr, err := pgzip.NewReader(in)
	if err != nil {
		return errors.Wrapf(err, "read gzip header of %s", src)
	}
	defer zr.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	defer out.Close()
	if _, err := io.Copy(out, zr); err != nil {
		return errors.Wrapf(err, "decompress %s", src)
	}
	return out.Close()
}

// MountSource attaches the staged image and mounts its content
// read-only at sourceDir. A failure first undoes the partial work,
// detach included, then propagates.
func (im *ImageMounter) MountSource(ctx context.Context, staged, sourceDir string) error {
	partitioned, err := im.hasPartitionTable(ctx, staged)
	if err != nil {
		return err
	}
	if partitioned {
		err = im.mountPartitioned(ctx, staged, sourceDir)
	} else {
		err = im.mountLoop(ctx, staged, sourceDir)
	}
	if err != nil {
		im.Detach(context.Background())
		return err
	}
	return nil
}

func (im *ImageMounter) hasPartitionTable(ctx context.Context, staged string) (bool, error) {
	if strings.HasSuffix(staged, ".qcow2") {
		return true, nil
	}
	out, err := im.runner.Run(ctx, fmt.Sprintf("blkid -o value -s PTTYPE %s || true", staged))
	if err != nil {
		return false, oserrors.New(oserrors.CategoryMount, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// The partitioned source layout is fixed: p2 carries the root tree,
// p1 the boot files, and the root tree ships an empty /boot to mount
// p1 onto.
func (im *ImageMounter) mountPartitioned(ctx context.Context, staged, sourceDir string) error {
	nbd := "/dev/" + im.nbdDevice
	if _, err := im.runner.Run(ctx, "modprobe nbd max_part=2"); err != nil {
		return oserrors.New(oserrors.CategoryMount, err)
	}
	if _, err := im.runner.Run(ctx, fmt.Sprintf("qemu-nbd --disconnect %s || true", nbd)); err != nil {
		return oserrors.New(oserrors.CategoryMount, err)
	}
	if _, err := im.runner.Run(ctx, fmt.Sprintf("qemu-nbd --connect %s %s", nbd, staged)); err != nil {
		return oserrors.New(oserrors.CategoryMount, errors.Wrap(err, "Failed to attach source image"))
	}
	im.attached = true

	time.Sleep(im.settle)
	if _, err := im.runner.Run(ctx, fmt.Sprintf("partprobe %s", nbd)); err != nil {
		return oserrors.New(oserrors.CategoryMount, err)
	}

	if err := im.mountRO(ctx, plan.PartDevice(im.nbdDevice, 2), sourceDir); err != nil {
		return err
	}
	return im.mountRO(ctx, plan.PartDevice(im.nbdDevice, 1), sourceDir+"/boot")
}

func (im *ImageMounter) mountLoop(ctx context.Context, staged, sourceDir string) error {
	if _, err := im.runner.Run(ctx, fmt.Sprintf("mount -o ro,loop %s %s", staged, sourceDir)); err != nil {
		return oserrors.New(oserrors.CategoryMount, errors.Wrap(err, "Failed to loop mount source image"))
	}
	im.mounts = append(im.mounts, sourceDir)
	return nil
}

func (im *ImageMounter) mountRO(ctx context.Context, device, target string) error {
	if _, err := im.runner.Run(ctx, fmt.Sprintf("mount -o ro %s %s", device, target)); err != nil {
		return oserrors.New(oserrors.CategoryMount, errors.Wrapf(err, "Failed to mount %s at %s", device, target))
	}
	im.mounts = append(im.mounts, target)
	return nil
}

// Detach unmounts the source tree in reverse order and releases the
// attach device. Safe to call more than once.
func (im *ImageMounter) Detach(ctx context.Context) {
	for i := len(im.mounts) - 1; i >= 0; i-- {
		if _, err := im.runner.Run(ctx, fmt.Sprintf("umount %s", im.mounts[i])); err != nil {
			klog.Errorf("unmount source %s: %v", im.mounts[i], err)
		}
	}
	im.mounts = nil
	if im.attached {
		if _, err := im.runner.Run(ctx, fmt.Sprintf("qemu-nbd --disconnect /dev/%s", im.nbdDevice)); err != nil {
			klog.Errorf("disconnect /dev/%s: %v", im.nbdDevice, err)
		}
		im.attached = false
	}
}
