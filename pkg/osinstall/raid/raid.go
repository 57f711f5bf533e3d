package raid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
	"github.com/kubemetalio/osinstall/pkg/util"
)

const (
	defaultReadyTimeout = 2 * time.Minute
	defaultReadyPoll    = 2 * time.Second
)

// Assembler builds mirrored md arrays from member partitions.
type Assembler struct {
	runner       util.CommandRunner
	readyTimeout time.Duration
	readyPoll    time.Duration
	assembled    []plan.ArrayPlan
}

func NewAssembler(runner util.CommandRunner) *Assembler {
	return &Assembler{runner: runner, readyTimeout: defaultReadyTimeout, readyPoll: defaultReadyPoll}
}

// Assemble creates every planned array in order. Assembly of a single
// array is atomic: an array that cannot reach a ready state is stopped
// before the error surfaces. Arrays assembled by earlier iterations
// stay up for the orchestrator's cleanup to stop.
func (a *Assembler) Assemble(ctx context.Context, arrays []plan.ArrayPlan) error {
	for _, arr := range arrays {
		if err := ctx.Err(); err != nil {
			return oserrors.New(oserrors.CategoryRaid, err)
		}
		if err := a.assembleOne(ctx, arr); err != nil {
			return err
		}
		a.assembled = append(a.assembled, arr)
	}
	return nil
}

func (a *Assembler) assembleOne(ctx context.Context, arr plan.ArrayPlan) error {
	if arr.Mode != types.RaidModeMD {
		return oserrors.Newf(oserrors.CategoryRaid, "assembly mode %q is not supported, only md arrays can be assembled", arr.Mode)
	}
	klog.V(4).Infof("Assemble array [%s] as %s from %v", arr.Name, arr.Device, arr.Members)

	cmd := fmt.Sprintf("mdadm --create %s --level=1 --raid-devices=%d %s",
		arr.Device, len(arr.Members), strings.Join(arr.Members, " "))
	if _, err := a.runner.RunInput(ctx, "y\n", cmd); err != nil {
		return oserrors.New(oserrors.CategoryRaid, errors.Wrapf(err, "Failed to create array %s", arr.Name))
	}

	if err := a.waitReady(ctx, arr); err != nil {
		a.stop(ctx, arr.Device)
		return err
	}
	klog.V(4).Infof("Array [%s] is ready", arr.Name)
	return nil
}

// waitReady polls the array state until it reports clean or active. An
// array that is degraded right after creation is a failure, not a
// warning.
func (a *Assembler) waitReady(ctx context.Context, arr plan.ArrayPlan) error {
	deadline := time.Now().Add(a.readyTimeout)
	for {
		state, err := a.state(ctx, arr.Device)
		if err != nil {
			return oserrors.New(oserrors.CategoryRaid, err)
		}
		switch {
		case strings.Contains(state, "degraded") || strings.Contains(state, "faulty"):
			return oserrors.Newf(oserrors.CategoryRaid, "array %s degraded right after creation: %s", arr.Name, state)
		case strings.Contains(state, "clean") || strings.Contains(state, "active"):
			return nil
		}
		if time.Now().After(deadline) {
			return oserrors.Newf(oserrors.CategoryRaid, "array %s not ready after %s: state %q", arr.Name, a.readyTimeout, state)
		}
		select {
		case <-ctx.Done():
			return oserrors.New(oserrors.CategoryRaid, ctx.Err())
		case <-time.After(a.readyPoll):
		}
	}
}

func (a *Assembler) state(ctx context.Context, device string) (string, error) {
	return a.runner.Run(ctx, fmt.Sprintf("mdadm --detail %s | awk -F: '/State :/{print $2}'", device))
}

// StopAll tears down every array this assembler brought up, in
// reverse order. Safe to call when nothing was assembled.
func (a *Assembler) StopAll(ctx context.Context) {
	for i := len(a.assembled) - 1; i >= 0; i-- {
		a.stop(ctx, a.assembled[i].Device)
	}
	a.assembled = nil
}

func (a *Assembler) stop(ctx context.Context, device string) {
	if _, err := a.runner.Run(ctx, fmt.Sprintf("mdadm --stop %s", device)); err != nil {
		klog.Errorf("stop array %s: %v", device, err)
	}
}
