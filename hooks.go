package flagdock

import (
	"errors"
	"sync"

	"github.com/flagdock/flagdock-go/internal/domain"
	"github.com/flagdock/flagdock-go/internal/refresh"
)

// ClientReadyState describes the flag data available when the client first
// became able to serve evaluations.
type ClientReadyState int

const (
	// NoFlagData means neither the cache nor the endpoint produced a config;
	// only default values can be served.
	NoFlagData ClientReadyState = iota
	// CachedFlagDataOnly means a possibly stale cached config is served.
	CachedFlagDataOnly
	// UpToDateFlagData means a config fresh within the polling window is served.
	UpToDateFlagData
)

// Hooks dispatches client lifecycle events to subscribed callbacks.
// Callbacks run on their own goroutine; slow subscribers never block the
// client. Subscribing after the client became ready still delivers the
// recorded ready state.
type Hooks struct {
	mu sync.Mutex

	readyFired bool
	readyState ClientReadyState

	onReady         []func(state ClientReadyState)
	onConfigChanged []func(settings map[string]interface{})
	onError         []func(err error)
	onFlagEvaluated []func(details *EvaluationDetails)
}

// NewHooks creates an empty hooks dispatcher.
func NewHooks() *Hooks {
	return &Hooks{}
}

// AddOnReady subscribes to the client ready event. If the client is already
// ready, the callback fires immediately with the recorded state.
func (h *Hooks) AddOnReady(callback func(state ClientReadyState)) {
	h.mu.Lock()
	fired, state := h.readyFired, h.readyState
	if !fired {
		h.onReady = append(h.onReady, callback)
	}
	h.mu.Unlock()
	if fired {
		go callback(state)
	}
}

// AddOnConfigChanged subscribes to config change events. The callback
// receives the adopted config's flags as a key to default value snapshot.
func (h *Hooks) AddOnConfigChanged(callback func(settings map[string]interface{})) {
	h.mu.Lock()
	h.onConfigChanged = append(h.onConfigChanged, callback)
	h.mu.Unlock()
}

// AddOnError subscribes to fetch and cache error events.
func (h *Hooks) AddOnError(callback func(err error)) {
	h.mu.Lock()
	h.onError = append(h.onError, callback)
	h.mu.Unlock()
}

// AddOnFlagEvaluated subscribes to flag evaluation events.
func (h *Hooks) AddOnFlagEvaluated(callback func(details *EvaluationDetails)) {
	h.mu.Lock()
	h.onFlagEvaluated = append(h.onFlagEvaluated, callback)
	h.mu.Unlock()
}

func (h *Hooks) invokeReady(state ClientReadyState) {
	h.mu.Lock()
	if h.readyFired {
		h.mu.Unlock()
		return
	}
	h.readyFired = true
	h.readyState = state
	callbacks := h.onReady
	h.onReady = nil
	h.mu.Unlock()
	for _, callback := range callbacks {
		go callback(state)
	}
}

func (h *Hooks) invokeConfigChanged(settings map[string]interface{}) {
	h.mu.Lock()
	callbacks := make([]func(map[string]interface{}), len(h.onConfigChanged))
	copy(callbacks, h.onConfigChanged)
	h.mu.Unlock()
	for _, callback := range callbacks {
		go callback(settings)
	}
}

func (h *Hooks) invokeError(err error) {
	h.mu.Lock()
	callbacks := make([]func(error), len(h.onError))
	copy(callbacks, h.onError)
	h.mu.Unlock()
	for _, callback := range callbacks {
		go callback(err)
	}
}

func (h *Hooks) invokeFlagEvaluated(details *EvaluationDetails) {
	h.mu.Lock()
	callbacks := make([]func(*EvaluationDetails), len(h.onFlagEvaluated))
	copy(callbacks, h.onFlagEvaluated)
	h.mu.Unlock()
	for _, callback := range callbacks {
		go callback(details)
	}
}

// hooksListener bridges the refresh service's events onto the dispatcher.
type hooksListener struct {
	hooks *Hooks
}

func (l hooksListener) OnConfigChanged(config *domain.Config) {
	l.hooks.invokeConfigChanged(settingsSnapshot(config))
}

func (l hooksListener) OnError(message string) {
	l.hooks.invokeError(errors.New(message))
}

func (l hooksListener) OnReady(state refresh.ReadyState) {
	l.hooks.invokeReady(ClientReadyState(state))
}

// settingsSnapshot flattens a config into the flag key to default value map
// handed to config-changed subscribers.
func settingsSnapshot(config *domain.Config) map[string]interface{} {
	snapshot := map[string]interface{}{}
	if config.IsEmpty() {
		return snapshot
	}
	for key, setting := range config.Settings {
		value, err := setting.Value.Get(setting.Type)
		if err != nil {
			continue
		}
		snapshot[key] = value
	}
	return snapshot
}
