// Package fetcher performs conditional HTTP fetches of the configuration
// document against the config delivery endpoint.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flagdock/flagdock-go/internal/domain"
	"github.com/rs/zerolog"
)

// Status classifies the outcome of one fetch.
type Status int

const (
	// Fetched means a new configuration document was downloaded.
	Fetched Status = iota
	// NotModified means the server confirmed the cached document is current.
	NotModified
	// Failed means the document could not be retrieved.
	Failed
)

// Response is the result of one conditional fetch.
type Response struct {
	Status Status
	Entry  domain.Entry
	Error  string

	// FetchTimeUpdatable marks failures that still confirm the cached
	// entry is the servable one (e.g. rejected credentials), so the
	// entry's fetch time may be bumped.
	FetchTimeUpdatable bool
}

func (r Response) IsFetched() bool     { return r.Status == Fetched }
func (r Response) IsNotModified() bool { return r.Status == NotModified }
func (r Response) IsFailed() bool      { return r.Status == Failed }

// Fetcher is the transport contract consumed by the refresh service.
type Fetcher interface {
	// Fetch performs one conditional fetch against the previously seen
	// validation tag. It never returns an error; failures are carried in
	// the response.
	Fetch(ctx context.Context, etag string) Response

	// Close releases the underlying transport resources.
	Close()
}

// Config holds HTTP fetcher configuration.
type Config struct {
	SDKKey      string
	BaseURL     string
	URLIsCustom bool
	// PollingID identifies the polling mode in the outgoing client tag
	// ("a", "l" or "m").
	PollingID  string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

const (
	configJSONName = "config_v1.json"
	clientVersion  = "1.0.0"

	// One redirect retry on top of the initial request; a longer chain is
	// treated as a redirect loop.
	maxRedirects = 2
)

// HTTPFetcher implements Fetcher over net/http with ETag-conditional GETs.
type HTTPFetcher struct {
	sdkKey      string
	url         string
	urlIsCustom bool
	clientTag   string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewHTTP creates a fetcher for the given endpoint.
func NewHTTP(config Config) *HTTPFetcher {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		sdkKey:      config.SDKKey,
		url:         config.BaseURL,
		urlIsCustom: config.URLIsCustom,
		clientTag:   fmt.Sprintf("flagdock-go/%s-%s", config.PollingID, clientVersion),
		httpClient:  httpClient,
		logger:      config.Logger,
	}
}

// Fetch performs one conditional fetch, following forced CDN redirects
// carried in the document preferences.
func (f *HTTPFetcher) Fetch(ctx context.Context, etag string) Response {
	return f.executeFetch(ctx, maxRedirects, etag)
}

func (f *HTTPFetcher) executeFetch(ctx context.Context, remaining int, etag string) Response {
	response := f.fetchOnce(ctx, etag)
	if !response.IsFetched() {
		return response
	}

	preferences := response.Entry.Config.Preferences
	if preferences == nil || preferences.BaseURL == "" || preferences.BaseURL == f.url {
		return response
	}

	// A custom endpoint is only overridden by a forced redirect.
	if f.urlIsCustom && preferences.Redirect != domain.ForceRedirect {
		return response
	}

	f.url = preferences.BaseURL

	if preferences.Redirect == domain.NoRedirect {
		return response
	}
	if preferences.Redirect == domain.ShouldRedirect {
		f.logger.Warn().Msg("your data governance setting is out of sync; update the endpoint configuration")
	}
	if remaining > 0 {
		return f.executeFetch(ctx, remaining-1, response.Entry.ETag)
	}

	f.logger.Error().Msg("fetch failed: redirect loop detected between config delivery endpoints")
	return response
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, etag string) Response {
	url := fmt.Sprintf("%s/configuration-files/%s/%s", f.url, f.sdkKey, configJSONName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{Status: Failed, Error: fmt.Sprintf("failed to create fetch request: %v", err)}
	}
	req.Header.Set("X-FlagDock-UserAgent", f.clientTag)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		message := fmt.Sprintf("failed to fetch config: %v", err)
		f.logger.Error().Err(err).Msg("config fetch failed")
		return Response{Status: Failed, Error: message}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			message := fmt.Sprintf("failed to read config response: %v", err)
			f.logger.Error().Err(err).Msg("config fetch failed")
			return Response{Status: Failed, Error: message}
		}
		config, err := domain.ParseConfig(body)
		if err != nil {
			message := fmt.Sprintf("fetch succeeded but the response body is invalid: %v", err)
			f.logger.Error().Err(err).Msg("config fetch returned invalid body")
			return Response{Status: Failed, Error: message}
		}
		f.logger.Debug().Msg("fetch was successful: new config fetched")
		return Response{
			Status: Fetched,
			Entry: domain.Entry{
				Config:    config,
				ETag:      resp.Header.Get("ETag"),
				RawConfig: string(body),
				FetchTime: time.Now(),
			},
		}

	case resp.StatusCode == http.StatusNotModified:
		f.logger.Debug().Msg("fetch was successful: config not modified")
		return Response{Status: NotModified, FetchTimeUpdatable: true}

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		message := "fetch failed: double-check your SDK key"
		f.logger.Error().Int("status", resp.StatusCode).Msg(message)
		return Response{Status: Failed, Error: message, FetchTimeUpdatable: true}

	default:
		message := fmt.Sprintf("fetch failed: unexpected HTTP response %d %s", resp.StatusCode, resp.Status)
		f.logger.Error().Int("status", resp.StatusCode).Msg("config fetch failed")
		return Response{Status: Failed, Error: message}
	}
}

// Close releases idle transport connections.
func (f *HTTPFetcher) Close() {
	f.httpClient.CloseIdleConnections()
}
