package postinstall

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteMachineID(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "etc"), 0755))

	require.NoError(t, WriteMachineID(target))

	content, err := os.ReadFile(filepath.Join(target, "etc", "machine-id"))
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}\n$`), string(content))
}
