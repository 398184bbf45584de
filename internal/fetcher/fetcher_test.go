package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `{"p":{"s":"salt"},"f":{"enabled":{"t":0,"v":{"b":true},"i":"v1"}}}`

func newTestFetcher(baseURL string) *HTTPFetcher {
	return NewHTTP(Config{
		SDKKey:    "test-sdk-key",
		BaseURL:   baseURL,
		PollingID: "m",
		Logger:    zerolog.Nop(),
	})
}

func TestFetch_Success(t *testing.T) {
	var gotPath, gotAgent, gotETag string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("X-FlagDock-UserAgent")
		gotETag = r.Header.Get("If-None-Match")
		w.Header().Set("ETag", `"etag-1"`)
		fmt.Fprint(w, minimalConfig)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	require.True(t, response.IsFetched())
	assert.Equal(t, "/configuration-files/test-sdk-key/config_v1.json", gotPath)
	assert.Equal(t, "flagdock-go/m-"+clientVersion, gotAgent)
	assert.Empty(t, gotETag, "first fetch must not send If-None-Match")
	assert.Equal(t, `"etag-1"`, response.Entry.ETag)
	assert.Equal(t, minimalConfig, response.Entry.RawConfig)
	require.NotNil(t, response.Entry.Config)
	assert.Contains(t, response.Entry.Config.Settings, "enabled")
	assert.False(t, response.Entry.FetchTime.IsZero())
}

func TestFetch_NotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		fmt.Fprint(w, minimalConfig)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	defer f.Close()

	response := f.Fetch(context.Background(), `"etag-1"`)
	assert.True(t, response.IsNotModified())
	assert.True(t, response.FetchTimeUpdatable)
	assert.True(t, response.Entry.IsEmpty())
}

func TestFetch_InvalidSDKKey(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			f := newTestFetcher(server.URL)
			defer f.Close()

			response := f.Fetch(context.Background(), "")
			assert.True(t, response.IsFailed())
			assert.True(t, response.FetchTimeUpdatable,
				"a key rejection confirms the cached entry; its fetch time may be bumped")
			assert.Contains(t, response.Error, "SDK key")
		})
	}
}

func TestFetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	assert.True(t, response.IsFailed())
	assert.False(t, response.FetchTimeUpdatable)
}

func TestFetch_InvalidBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"f": not json`)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	assert.True(t, response.IsFailed())
	assert.Contains(t, response.Error, "invalid")
}

func TestFetch_ConnectionError(t *testing.T) {
	f := newTestFetcher("http://127.0.0.1:1")
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	assert.True(t, response.IsFailed())
	assert.NotEmpty(t, response.Error)
}

func TestFetch_ForcedRedirect(t *testing.T) {
	var secondaryHits atomic.Int32
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits.Add(1)
		fmt.Fprint(w, minimalConfig)
	}))
	defer secondary.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"p":{"s":"salt","u":%q,"r":2},"f":{}}`, secondary.URL)
	}))
	defer primary.Close()

	f := newTestFetcher(primary.URL)
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	require.True(t, response.IsFetched())
	assert.Equal(t, int32(1), secondaryHits.Load())
	assert.Contains(t, response.Entry.Config.Settings, "enabled",
		"the redirected fetch result must be the one returned")

	// The new base url sticks for subsequent fetches.
	response = f.Fetch(context.Background(), "")
	assert.True(t, response.IsFetched())
	assert.Equal(t, int32(2), secondaryHits.Load())
}

func TestFetch_RedirectLoopIsBounded(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	var urlA, urlB string

	serverA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		fmt.Fprintf(w, `{"p":{"s":"salt","u":%q,"r":2},"f":{}}`, urlB)
	}))
	defer serverA.Close()
	serverB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		fmt.Fprintf(w, `{"p":{"s":"salt","u":%q,"r":2},"f":{}}`, urlA)
	}))
	defer serverB.Close()
	urlA, urlB = serverA.URL, serverB.URL

	f := newTestFetcher(urlA)
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	assert.True(t, response.IsFetched())
	assert.LessOrEqual(t, hitsA.Load()+hitsB.Load(), int32(3),
		"redirect chains must stop after two hops")
}

func TestFetch_CustomURLIgnoresSoftRedirect(t *testing.T) {
	var customHits atomic.Int32
	custom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customHits.Add(1)
		fmt.Fprint(w, `{"p":{"s":"salt","u":"http://elsewhere.invalid","r":1},"f":{}}`)
	}))
	defer custom.Close()

	f := NewHTTP(Config{
		SDKKey:      "test-sdk-key",
		BaseURL:     custom.URL,
		URLIsCustom: true,
		PollingID:   "m",
		Logger:      zerolog.Nop(),
	})
	defer f.Close()

	response := f.Fetch(context.Background(), "")
	assert.True(t, response.IsFetched())

	// A non-forced redirect never moves a custom endpoint.
	response = f.Fetch(context.Background(), "")
	assert.True(t, response.IsFetched())
	assert.Equal(t, int32(2), customHits.Load())
}
