// Package refresh keeps the in-memory configuration entry in sync with the
// external cache and the config delivery endpoint. It owns the polling mode
// state machine, the offline switch and the single-flight fetch handling.
package refresh

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flagdock/flagdock-go/internal/domain"
	"github.com/flagdock/flagdock-go/internal/fetcher"
	"github.com/flagdock/flagdock-go/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	configJSONName     = "config_v1.json"
	cacheFormatVersion = "v1"

	offlineMessage  = "client is in offline mode, it cannot initiate HTTP calls"
	closedMessage   = "the client is closed, it cannot initiate HTTP calls"
	initWaitMessage = "max init wait time expired before the first fetch completed, evaluation proceeds on cached data"
)

// ReadyState describes the flag data available when the client first became
// ready to serve evaluations.
type ReadyState int

const (
	// NoFlagData means neither the cache nor the endpoint produced a config.
	NoFlagData ReadyState = iota
	// CachedFlagDataOnly means a possibly stale cached config is served.
	CachedFlagDataOnly
	// UpToDateFlagData means a config fresh within the polling window is served.
	UpToDateFlagData
)

// PollingMode selects how the service keeps the config fresh.
type PollingMode interface {
	// PollingIdentifier is the short mode tag sent to the endpoint.
	PollingIdentifier() string
}

// AutoPoll refreshes the config on a fixed interval in the background.
type AutoPoll struct {
	Interval time.Duration
	// MaxInitWait bounds how long the first evaluation may block on the
	// initial fetch; zero means wait for the fetch without a deadline.
	MaxInitWait time.Duration
}

func (AutoPoll) PollingIdentifier() string { return "a" }

// LazyLoad refreshes the config on demand once it is older than TTL.
type LazyLoad struct {
	TTL time.Duration
}

func (LazyLoad) PollingIdentifier() string { return "l" }

// ManualPoll never fetches on its own; only Refresh downloads a config.
type ManualPoll struct{}

func (ManualPoll) PollingIdentifier() string { return "m" }

// ConfigCache is the external cache contract. Implementations must be safe
// for concurrent use.
type ConfigCache interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key string, value string) error
}

// Listener receives lifecycle events. Calls may arrive while internal locks
// are held; implementations must not call back into the service.
type Listener interface {
	OnConfigChanged(config *domain.Config)
	OnError(message string)
	OnReady(state ReadyState)
}

type noopListener struct{}

func (noopListener) OnConfigChanged(*domain.Config) {}
func (noopListener) OnError(string)                 {}
func (noopListener) OnReady(ReadyState)             {}

// RefreshResult reports the outcome of a forced refresh.
type RefreshResult struct {
	Success bool
	Error   string
}

// Config holds refresh service configuration.
type Config struct {
	SDKKey    string
	Mode      PollingMode
	Fetcher   fetcher.Fetcher
	Cache     ConfigCache
	Listener  Listener
	Offline   bool
	Logger    zerolog.Logger
	Telemetry *telemetry.Provider
}

// fetchOp is the shared completion handle of one in-flight fetch. Every
// caller that needs a fetch while one is running waits on the same handle.
type fetchOp struct {
	done  chan struct{}
	entry domain.Entry
	err   string
}

// Service is the config synchronization engine.
type Service struct {
	sdkKey    string
	cacheKey  string
	mode      PollingMode
	fetcher   fetcher.Fetcher
	cache     ConfigCache
	listener  Listener
	logger    zerolog.Logger
	telemetry *telemetry.Provider

	mu                sync.Mutex
	entry             domain.Entry
	cachedEntryString string
	runningTask       *fetchOp

	initialized atomic.Bool
	offline     atomic.Bool
	closed      atomic.Bool

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	initTimer *time.Timer
}

// NewService creates and starts the synchronization engine for one SDK key.
func NewService(config Config) *Service {
	listener := config.Listener
	if listener == nil {
		listener = noopListener{}
	}
	s := &Service{
		sdkKey:    config.SDKKey,
		cacheKey:  cacheKeyFor(config.SDKKey),
		mode:      config.Mode,
		fetcher:   config.Fetcher,
		cache:     config.Cache,
		listener:  listener,
		logger:    config.Logger,
		telemetry: config.Telemetry,
		entry:     domain.EmptyEntry,
	}
	s.offline.Store(config.Offline)

	if mode, ok := config.Mode.(AutoPoll); ok && !config.Offline {
		if mode.MaxInitWait > 0 {
			s.initTimer = time.AfterFunc(mode.MaxInitWait, s.onInitWaitExpired)
		}
		s.startPoller(mode)
		return s
	}

	// Manual, lazy and offline auto-poll clients are initialized right
	// away; the ready event waits for a first look at the external cache.
	s.initialized.Store(true)
	go func() {
		s.mu.Lock()
		s.syncCacheLocked(context.Background())
		state := s.readyStateLocked()
		s.mu.Unlock()
		s.listener.OnReady(state)
	}()
	return s
}

// GetSettings returns the entry to evaluate from, fetching first when the
// polling mode requires it. The returned error message is non-empty when a
// required fetch failed; the entry is still the best available one.
func (s *Service) GetSettings(ctx context.Context) (domain.Entry, string) {
	switch mode := s.mode.(type) {
	case LazyLoad:
		return s.fetchIfOlder(ctx, time.Now().Add(-mode.TTL), false)
	case AutoPoll:
		threshold := distantPast
		if !s.initialized.Load() {
			// Not initialized yet; block on the first fetch unless the
			// cache already holds an entry within the polling window.
			threshold = time.Now().Add(-mode.Interval)
		}
		return s.fetchIfOlder(ctx, threshold, s.initialized.Load())
	default:
		return s.fetchIfOlder(ctx, distantPast, true)
	}
}

// Refresh forces a fetch regardless of the polling mode and the entry's age.
func (s *Service) Refresh(ctx context.Context) RefreshResult {
	if s.offline.Load() {
		s.logger.Warn().Msg(offlineMessage)
		return RefreshResult{Success: false, Error: offlineMessage}
	}
	_, errMsg := s.fetchIfOlder(ctx, distantFuture(), false)
	return RefreshResult{Success: errMsg == "", Error: errMsg}
}

// SetOnline re-enables HTTP traffic and restarts the poller in auto mode.
func (s *Service) SetOnline() {
	if s.closed.Load() || !s.offline.CompareAndSwap(true, false) {
		return
	}
	if mode, ok := s.mode.(AutoPoll); ok {
		s.startPoller(mode)
	}
	s.logger.Info().Msg("switched to online mode")
}

// SetOffline stops all HTTP traffic; cached data keeps being served.
func (s *Service) SetOffline() {
	if !s.offline.CompareAndSwap(false, true) {
		return
	}
	s.stopPoller()
	s.logger.Info().Msg("switched to offline mode")
}

// IsOffline reports whether HTTP traffic is disabled.
func (s *Service) IsOffline() bool {
	return s.offline.Load()
}

// Close shuts the service down. It is idempotent.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
	s.stopPoller()
	s.fetcher.Close()
}

// fetchIfOlder is the single decision point for every fetch. It serves from
// memory when the entry is fresher than threshold, short-circuits for
// initialized callers that merely prefer cached data, refuses in offline
// mode, and otherwise joins or starts the single in-flight fetch.
func (s *Service) fetchIfOlder(ctx context.Context, threshold time.Time, preferCached bool) (domain.Entry, string) {
	s.mu.Lock()

	s.syncCacheLocked(ctx)

	if !s.entry.IsEmpty() && s.entry.FetchTime.After(threshold) {
		s.setInitializedLocked()
		entry := s.entry
		s.mu.Unlock()
		return entry, ""
	}

	if preferCached && s.initialized.Load() {
		entry := s.entry
		s.mu.Unlock()
		return entry, ""
	}

	if s.offline.Load() {
		entry := s.entry
		s.mu.Unlock()
		s.logger.Warn().Msg(offlineMessage)
		return entry, offlineMessage
	}

	op := s.runningTask
	if op == nil {
		// A cancelled caller or a closing service must not start new traffic.
		if err := ctx.Err(); err != nil {
			entry := s.entry
			s.mu.Unlock()
			return entry, err.Error()
		}
		if s.closed.Load() {
			entry := s.entry
			s.mu.Unlock()
			return entry, closedMessage
		}
		op = &fetchOp{done: make(chan struct{})}
		s.runningTask = op
		go s.fetch(s.entry.ETag, op)
	}
	s.mu.Unlock()

	select {
	case <-op.done:
		return op.entry, op.err
	case <-ctx.Done():
		return s.currentEntry(), ctx.Err().Error()
	}
}

// fetch runs detached from any caller context: a caller giving up must not
// cancel the download the remaining waiters share.
func (s *Service) fetch(etag string, op *fetchOp) {
	ctx, span := s.telemetry.StartSpan(context.Background(), "flagdock.fetch")
	start := time.Now()
	response := s.fetcher.Fetch(ctx, etag)
	s.telemetry.RecordFetch(ctx, !response.IsFailed(), time.Since(start))
	span.End()

	s.mu.Lock()
	s.processResponseLocked(ctx, response)
	entry := s.entry
	errMsg := ""
	if response.IsFailed() {
		errMsg = response.Error
	}
	// The init wait timer may have completed the handle already.
	if s.runningTask == op {
		s.runningTask = nil
		op.entry = entry
		op.err = errMsg
		close(op.done)
	}
	s.mu.Unlock()
}

func (s *Service) processResponseLocked(ctx context.Context, response fetcher.Response) {
	switch {
	case response.IsFetched():
		s.entry = response.Entry
		s.writeCacheLocked(ctx)
		s.setInitializedLocked()
		s.telemetry.RecordConfigChange(ctx)
		s.listener.OnConfigChanged(response.Entry.Config)

	case response.IsNotModified():
		s.entry = s.entry.WithFetchTime(time.Now())
		s.writeCacheLocked(ctx)
		s.setInitializedLocked()

	default:
		if response.FetchTimeUpdatable && !s.entry.IsEmpty() {
			s.entry = s.entry.WithFetchTime(time.Now())
			s.writeCacheLocked(ctx)
		}
		s.setInitializedLocked()
		s.listener.OnError(response.Error)
	}
}

// onInitWaitExpired unblocks evaluation after MaxInitWait: the service
// becomes ready on cached data and any waiters on the in-flight fetch are
// released. The fetch itself keeps running and is merged when it lands.
func (s *Service) onInitWaitExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized.Load() {
		return
	}
	s.logger.Warn().Msg(initWaitMessage)
	s.setInitializedLocked()
	if op := s.runningTask; op != nil {
		s.runningTask = nil
		op.entry = s.entry
		op.err = initWaitMessage
		close(op.done)
	}
}

// syncCacheLocked adopts an entry another process wrote to the shared cache.
func (s *Service) syncCacheLocked(ctx context.Context) {
	if s.cache == nil {
		return
	}
	raw, err := s.cache.Read(ctx, s.cacheKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read from the cache")
		return
	}
	if raw == "" || raw == s.cachedEntryString {
		return
	}
	s.cachedEntryString = raw
	entry, err := domain.DeserializeEntry(raw)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to parse the cached config")
		return
	}
	if entry.IsEmpty() || entry.ETag == s.entry.ETag {
		return
	}
	s.entry = entry
	s.listener.OnConfigChanged(entry.Config)
}

func (s *Service) writeCacheLocked(ctx context.Context) {
	if s.cache == nil {
		return
	}
	serialized, err := s.entry.Serialize()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to serialize the config entry")
		return
	}
	s.cachedEntryString = serialized
	if err := s.cache.Write(ctx, s.cacheKey, serialized); err != nil {
		s.logger.Error().Err(err).Msg("failed to write to the cache")
	}
}

func (s *Service) setInitializedLocked() {
	if !s.initialized.CompareAndSwap(false, true) {
		return
	}
	s.listener.OnReady(s.readyStateLocked())
}

func (s *Service) readyStateLocked() ReadyState {
	if s.entry.IsEmpty() {
		return NoFlagData
	}
	switch mode := s.mode.(type) {
	case AutoPoll:
		if s.entry.IsExpired(time.Now().Add(-mode.Interval)) {
			return CachedFlagDataOnly
		}
		return UpToDateFlagData
	case LazyLoad:
		if s.entry.IsExpired(time.Now().Add(-mode.TTL)) {
			return CachedFlagDataOnly
		}
		return UpToDateFlagData
	default:
		return CachedFlagDataOnly
	}
}

func (s *Service) currentEntry() domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

func (s *Service) startPoller(mode AutoPoll) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})
	go s.poll(ctx, mode, s.pollDone)
}

func (s *Service) stopPoller() {
	s.pollMu.Lock()
	cancel, done := s.pollCancel, s.pollDone
	s.pollCancel, s.pollDone = nil, nil
	s.pollMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) poll(ctx context.Context, mode AutoPoll, done chan struct{}) {
	defer close(done)

	// An entry fresher than ~70% of the interval is accepted without a
	// fetch; clients sharing one cache then avoid fetching in lockstep.
	staleness := mode.Interval * 7 / 10

	s.fetchIfOlder(ctx, time.Now().Add(-staleness), false)

	ticker := time.NewTicker(mode.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fetchIfOlder(ctx, time.Now().Add(-staleness), false)
		}
	}
}

// cacheKeyFor derives the stable cache key all SDKs sharing the cache use.
func cacheKeyFor(sdkKey string) string {
	sum := sha1.Sum([]byte(sdkKey + "_" + configJSONName + "_" + cacheFormatVersion))
	return hex.EncodeToString(sum[:])
}

var distantPast = time.Time{}

func distantFuture() time.Time {
	return time.Now().Add(1000000 * time.Hour)
}
