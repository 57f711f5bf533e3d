package template

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastFetcher() *Fetcher {
	f := NewFetcher()
	f.client.RetryWaitMin = time.Millisecond
	f.client.RetryWaitMax = 5 * time.Millisecond
	return f
}

func TestFetcherGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("template body"))
	}))
	defer srv.Close()

	raw, err := fastFetcher().Get(context.Background(), srv.URL+"/install.json")
	require.NoError(t, err)
	require.Equal(t, []byte("template body"), raw)
}

func TestFetcherNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fastFetcher().Get(context.Background(), srv.URL+"/absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	raw, err := fastFetcher().Get(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	require.Equal(t, []byte("eventually"), raw)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestFetcherGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "os.img")
	require.NoError(t, fastFetcher().GetFile(context.Background(), srv.URL+"/os.img", path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("image bytes"), content)
}
