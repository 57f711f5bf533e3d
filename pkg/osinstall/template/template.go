package template

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"strings"

	"github.com/pkg/errors"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	"github.com/kubemetalio/osinstall/pkg/osinstall/types"
)

// Load reads the raw template document from a local path, a file://
// URI or an http(s):// URL.
func Load(ctx context.Context, location string, fetcher *Fetcher) ([]byte, error) {
	if isRemote(location) {
		return fetcher.Get(ctx, location)
	}
	raw, err := os.ReadFile(localPath(location))
	if err != nil {
		return nil, errors.Wrapf(err, "read template %s", location)
	}
	return raw, nil
}

// Parse decodes the JSON document. Structural failures name the
// offending field.
func Parse(raw []byte) (*types.Template, error) {
	var t types.Template
	if err := json.Unmarshal(raw, &t); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) {
			return nil, oserrors.Newf(oserrors.CategorySchema, "field %s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return nil, oserrors.New(oserrors.CategorySchema, errors.Wrap(err, "decode template"))
	}
	return &t, nil
}

// LoadAndValidate is the full validator pass: fetch, checksum, parse,
// cross-validate. It performs no device I/O.
func LoadAndValidate(ctx context.Context, location string, fetcher *Fetcher) (*types.Template, error) {
	raw, err := Load(ctx, location, fetcher)
	if err != nil {
		return nil, err
	}
	if err := VerifySidecar(ctx, location, raw, fetcher); err != nil {
		return nil, err
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func localPath(location string) string {
	return strings.TrimPrefix(location, "file://")
}
