package postinstall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

// CreateUsers adds each template user to the target system with a
// home directory, an empty password and, when requested, an ssh key
// and a sudoers entry.
func (e *Executor) CreateUsers(ctx context.Context, users []types.User, targetDir string) error {
	for _, u := range users {
		if err := e.createUser(ctx, u, targetDir); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) createUser(ctx context.Context, u types.User, targetDir string) error {
	klog.Infof("Start to create user [%s]", u.Username)
	cmd := fmt.Sprintf("chroot %s useradd -U -m -p '' %s", targetDir, u.Username)
	if u.UID != 0 {
		cmd = fmt.Sprintf("chroot %s useradd -U -m -p '' -u %d %s", targetDir, u.UID, u.Username)
	}
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to create user %s", u.Username))
	}
	if u.Key != "" {
		if err := e.installKey(ctx, u, targetDir); err != nil {
			return err
		}
	}
	if u.Sudo == types.SudoPassword {
		if err := grantSudo(u.Username, targetDir); err != nil {
			return err
		}
	}
	klog.Infof("Succeed to create user [%s]", u.Username)
	return nil
}

// installKey writes the user's public key under the target tree, not
// the installer's own /home, and hands ownership to the user inside
// the target.
func (e *Executor) installKey(ctx context.Context, u types.User, targetDir string) error {
	key, err := e.readKey(ctx, u.Key)
	if err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to read key for %s", u.Username))
	}
	sshDir := filepath.Join(targetDir, "home", u.Username, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "create %s", sshDir))
	}
	authPath := filepath.Join(sshDir, "authorized_keys")
	if err := os.WriteFile(authPath, key, 0600); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "write %s", authPath))
	}
	cmd := fmt.Sprintf("chroot %s chown -R %s:%s /home/%s/.ssh", targetDir, u.Username, u.Username, u.Username)
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to set key ownership for %s", u.Username))
	}
	return nil
}

func (e *Executor) readKey(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return e.fetcher.Get(ctx, location)
	}
	return os.ReadFile(strings.TrimPrefix(location, "file://"))
}

func grantSudo(username, targetDir string) error {
	dir := filepath.Join(targetDir, "etc", "sudoers.d")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "create %s", dir))
	}
	path := filepath.Join(dir, username)
	line := fmt.Sprintf("%s ALL=(ALL) ALL\n", username)
	if err := renameio.WriteFile(path, []byte(line), 0440); err != nil {
		return oserrors.New(oserrors.CategoryPostInstall, errors.Wrapf(err, "Failed to write sudoers entry for %s", username))
	}
	klog.V(4).Infof("Granted sudo to [%s]", username)
	return nil
}
