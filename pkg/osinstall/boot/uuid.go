// Package boot resolves filesystem UUIDs and points the installed
// system at them through fstab and the boot loader entries.
package boot

import (
	"context"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/util"
)

// Entry pairs a formatted device with its filesystem UUID and mount
// metadata, ready for fstab rendering.
type Entry struct {
	Device  string
	UUID    string
	Type    string
	Mount   string
	Options string
}

type Resolver struct {
	runner util.CommandRunner
}

func NewResolver(runner util.CommandRunner) *Resolver {
	return &Resolver{runner: runner}
}

// Resolve reads the UUID of every formatted filesystem in a single
// blkid pass and backfills physical partition records. Devices of the
// installer's own image attach never count.
func (r *Resolver) Resolve(ctx context.Context, p *plan.Plan, records []*plan.PartitionRecord) ([]Entry, error) {
	klog.V(4).Infof("Start to resolve filesystem UUIDs")
	out, err := r.runner.Run(ctx, "blkid")
	if err != nil {
		return nil, oserrors.New(oserrors.CategoryResolution, errors.Wrap(err, "Failed to read block device metadata"))
	}
	uuids, err := parseBlkid(out)
	if err != nil {
		return nil, oserrors.New(oserrors.CategoryResolution, err)
	}

	byDevice := map[string]*plan.PartitionRecord{}
	for _, rec := range records {
		byDevice[rec.Device] = rec
	}

	entries := make([]Entry, 0, len(p.Filesystems))
	for _, fs := range p.Filesystems {
		id := uuids[fs.Device]
		if id == "" {
			return nil, oserrors.Newf(oserrors.CategoryResolution, "no UUID reported for %s", fs.Device)
		}
		if rec, ok := byDevice[fs.Device]; ok {
			if err := rec.SetUUID(id); err != nil {
				return nil, oserrors.New(oserrors.CategoryResolution, err)
			}
		}
		if fs.Mount == "" {
			continue
		}
		entries = append(entries, Entry{
			Device:  fs.Device,
			UUID:    id,
			Type:    fs.Type,
			Mount:   fs.Mount,
			Options: fs.MountOptions,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Mount < entries[j].Mount })
	klog.V(4).Infof("Succeed to resolve UUIDs for %d filesystems", len(entries))
	return entries, nil
}

// blkid lines look like
//
//	/dev/sda1: UUID="86b8..." TYPE="vfat" PARTUUID="f0f1..."
//
// and the value section follows shell quoting rules.
func parseBlkid(out string) (map[string]string, error) {
	uuids := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			continue
		}
		device := line[:idx]
		if strings.HasPrefix(device, "/dev/nbd") || strings.HasPrefix(device, "/dev/loop") {
			continue
		}
		fields, err := shlex.Split(line[idx+2:])
		if err != nil {
			return nil, errors.Wrapf(err, "parse blkid line %q", line)
		}
		for _, f := range fields {
			if strings.HasPrefix(f, "UUID=") {
				uuids[device] = strings.TrimPrefix(f, "UUID=")
			}
		}
	}
	return uuids, nil
}
