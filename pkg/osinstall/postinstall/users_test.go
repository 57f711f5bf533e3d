package postinstall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
	testingexec "github.com/kubemetalio/osinstall/pkg/util/testing"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBx admin@example\n"

func TestCreateUserCommand(t *testing.T) {
	runner := testingexec.NewFakeRunner()
	e := NewExecutor(runner, nil)

	users := []types.User{{Username: "admin"}}
	require.NoError(t, e.CreateUsers(context.Background(), users, "/mnt/target"))
	require.Equal(t, []string{"chroot /mnt/target useradd -U -m -p '' admin"}, runner.Commands)
}

func TestCreateUserWithUID(t *testing.T) {
	runner := testingexec.NewFakeRunner()
	e := NewExecutor(runner, nil)

	users := []types.User{{Username: "admin", UID: 1001}}
	require.NoError(t, e.CreateUsers(context.Background(), users, "/mnt/target"))
	require.Equal(t, []string{"chroot /mnt/target useradd -U -m -p '' -u 1001 admin"}, runner.Commands)
}

func TestCreateUserInstallsLocalKey(t *testing.T) {
	target := t.TempDir()
	keyFile := filepath.Join(t.TempDir(), "admin.pub")
	require.NoError(t, os.WriteFile(keyFile, []byte(testKey), 0644))

	runner := testingexec.NewFakeRunner()
	e := NewExecutor(runner, nil)

	users := []types.User{{Username: "admin", Key: "file://" + keyFile}}
	require.NoError(t, e.CreateUsers(context.Background(), users, target))

	content, err := os.ReadFile(filepath.Join(target, "home", "admin", ".ssh", "authorized_keys"))
	require.NoError(t, err)
	require.Equal(t, testKey, string(content))

	require.Equal(t, []string{
		"chroot " + target + " useradd -U -m -p '' admin",
		"chroot " + target + " chown -R admin:admin /home/admin/.ssh",
	}, runner.Commands)
}

func TestCreateUserFetchesRemoteKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testKey))
	}))
	defer srv.Close()

	target := t.TempDir()
	runner := testingexec.NewFakeRunner()
	e := NewExecutor(runner, template.NewFetcher())

	users := []types.User{{Username: "admin", Key: srv.URL + "/admin.pub"}}
	require.NoError(t, e.CreateUsers(context.Background(), users, target))

	content, err := os.ReadFile(filepath.Join(target, "home", "admin", ".ssh", "authorized_keys"))
	require.NoError(t, err)
	require.Equal(t, testKey, string(content))
}

func TestCreateUserGrantsSudo(t *testing.T) {
	target := t.TempDir()
	runner := testingexec.NewFakeRunner()
	e := NewExecutor(runner, nil)

	users := []types.User{{Username: "admin", Sudo: types.SudoPassword}}
	require.NoError(t, e.CreateUsers(context.Background(), users, target))

	path := filepath.Join(target, "etc", "sudoers.d", "admin")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "admin ALL=(ALL) ALL\n", string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0440), info.Mode().Perm())
}

func TestCreateUserFailure(t *testing.T) {
	runner := testingexec.NewFakeRunner()
	runner.Handler = func(cmd string) (string, error) {
		return "", errors.New("useradd: user exists")
	}
	e := NewExecutor(runner, nil)

	err := e.CreateUsers(context.Background(), []types.User{{Username: "admin"}}, "/mnt/target")
	require.Error(t, err)
	require.Equal(t, oserrors.CategoryPostInstall, oserrors.CategoryOf(err))
	require.Contains(t, err.Error(), "Failed to create user admin")
}
