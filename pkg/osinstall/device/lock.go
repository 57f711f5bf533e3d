package device

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Locker holds exclusive advisory locks on the target disks so nothing
// else opens them for writing during the run.
type Locker struct {
	files []*os.File
}

func LockDisks(disks []string) (*Locker, error) {
	l := &Locker{}
	for _, disk := range disks {
		node := "/dev/" + disk
		f, err := os.OpenFile(node, os.O_RDWR, 0)
		if err != nil {
			l.Release()
			return nil, errors.Wrapf(err, "open %s", node)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			l.Release()
			return nil, errors.Wrapf(err, "lock %s, another process holds it", node)
		}
		klog.V(4).Infof("Locked disk [%s]", node)
		l.files = append(l.files, f)
	}
	return l, nil
}

func (l *Locker) Release() {
	for _, f := range l.files {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			klog.Errorf("unlock %s: %v", f.Name(), err)
		}
		f.Close()
	}
	l.files = nil
}
