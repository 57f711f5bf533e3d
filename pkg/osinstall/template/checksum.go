package template

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

const sidecarSuffix = ".sha256"

// VerifySidecar checks data against the sha256 sidecar next to
// location. A missing sidecar skips verification; the skip is logged,
// never silent.
func VerifySidecar(ctx context.Context, location string, data []byte, fetcher *Fetcher) error {
	return verify(ctx, location, bytes.NewReader(data), fetcher)
}

// VerifyFile streams the file at path against the sidecar belonging to
// location. Path and location differ when a remote image has been
// staged to a scratch file.
func VerifyFile(ctx context.Context, path, location string, fetcher *Fetcher) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s for checksum", path)
	}
	defer f.Close()
	return verify(ctx, location, f, fetcher)
}

func verify(ctx context.Context, location string, data io.Reader, fetcher *Fetcher) error {
	sidecar := location + sidecarSuffix
	expected, err := readSidecar(ctx, sidecar, fetcher)
	if err != nil {
		return oserrors.New(oserrors.CategoryIntegrity, err)
	}
	if expected == "" {
		klog.Infof("No checksum sidecar at [%s], verification skipped", sidecar)
		return nil
	}

	h := sha256.New()
	if _, err := io.Copy(h, data); err != nil {
		return oserrors.New(oserrors.CategoryIntegrity, errors.Wrapf(err, "hash %s", location))
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return oserrors.Newf(oserrors.CategoryIntegrity, "checksum mismatch for %s: computed %s, sidecar has %s", location, actual, expected)
	}
	klog.V(4).Infof("Checksum verified for [%s]", location)
	return nil
}

// readSidecar returns the hex digest from the sidecar, "" when the
// sidecar does not exist. The digest is the first field, so sha256sum
// output works unmodified.
func readSidecar(ctx context.Context, sidecar string, fetcher *Fetcher) (string, error) {
	var raw []byte
	var err error
	if isRemote(sidecar) {
		raw, err = fetcher.Get(ctx, sidecar)
		if stderrors.Is(err, ErrNotFound) {
			return "", nil
		}
	} else {
		raw, err = os.ReadFile(localPath(sidecar))
		if os.IsNotExist(err) {
			return "", nil
		}
	}
	if err != nil {
		return "", errors.Wrapf(err, "read checksum sidecar %s", sidecar)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "", errors.Errorf("checksum sidecar %s is empty", sidecar)
	}
	return fields[0], nil
}
