package template

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNotFound marks a remote resource that answered 404, so callers
// can treat optional resources (checksum sidecars) as absent.
var ErrNotFound = errors.New("resource not found")

// Fetcher retrieves remote resources with retries: template documents,
// checksum sidecars, ssh keys and source images.
type Fetcher struct {
	client *retryablehttp.Client
}

func NewFetcher() *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.Logger = nil
	return &Fetcher{client: client}
}

func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetFile streams url into path, for source images too large to hold
// in memory.
func (f *Fetcher) GetFile(ctx context.Context, url, path string) error {
	resp, err := f.do(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	klog.V(4).Infof("Downloaded [%s] to [%s] (%d bytes)", url, path, n)
	return out.Close()
}

func (f *Fetcher) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", url)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", url)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, errors.Wrapf(ErrNotFound, "GET %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, nil
}
