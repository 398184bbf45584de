// Package flagdock is a feature flag and remote configuration client.
// It keeps a configuration document synced from the FlagDock config
// delivery endpoint (or a local override source) and evaluates targeting
// and percentage rollout rules entirely in-process.
package flagdock

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/flagdock/flagdock-go/internal/domain"
	"github.com/flagdock/flagdock-go/internal/evaluator"
	"github.com/flagdock/flagdock-go/internal/fetcher"
	"github.com/flagdock/flagdock-go/internal/refresh"
	"github.com/flagdock/flagdock-go/internal/telemetry"
	"github.com/rs/zerolog"
)

// anySettingType disables the declared-type check for untyped lookups.
const anySettingType = domain.SettingType(-1)

// Client is the main entry point. One Client per SDK key; it is safe for
// concurrent use and cheap to share.
//
// Example:
//
//	client, err := flagdock.New("my-sdk-key",
//	    flagdock.WithAutoPolling(30*time.Second),
//	    flagdock.WithCache(cache),
//	)
type Client struct {
	sdkKey    string
	logger    zerolog.Logger
	hooks     *Hooks
	service   *refresh.Service
	evaluator *evaluator.Evaluator
	overrides *FlagOverrides
	telemetry *telemetry.Provider

	defaultUser atomic.Pointer[User]
	closed      atomic.Bool
}

// New creates a client for the given SDK key.
func New(sdkKey string, opts ...Option) (*Client, error) {
	if sdkKey == "" {
		return nil, &ConfigError{Field: "sdkKey", Message: "SDK key cannot be empty"}
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	hooks := cfg.hooks
	if hooks == nil {
		hooks = NewHooks()
	}

	logger := cfg.logger.With().Str("sdk_key", sdkKey).Logger()

	var tel *telemetry.Provider
	if !cfg.telemetryDisabled {
		var err error
		tel, err = telemetry.New()
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled; metric initialization failed")
		}
	}

	c := &Client{
		sdkKey:    sdkKey,
		logger:    logger,
		hooks:     hooks,
		evaluator: evaluator.New(logger),
		overrides: cfg.overrides,
		telemetry: tel,
	}
	c.defaultUser.Store(cfg.defaultUser)

	if cfg.overrides != nil && cfg.overrides.Behavior == LocalOnly {
		// No endpoint traffic at all; the override source is the config.
		hooks.invokeReady(UpToDateFlagData)
		return c, nil
	}

	mode := cfg.mode
	if auto, ok := mode.(refresh.AutoPoll); ok {
		auto.MaxInitWait = cfg.maxInitWait
		mode = auto
	}

	c.service = refresh.NewService(refresh.Config{
		SDKKey: sdkKey,
		Mode:   mode,
		Fetcher: fetcher.NewHTTP(fetcher.Config{
			SDKKey:      sdkKey,
			BaseURL:     cfg.baseURL,
			URLIsCustom: cfg.urlIsCustom,
			PollingID:   mode.PollingIdentifier(),
			HTTPClient:  cfg.httpClient,
			Logger:      logger,
		}),
		Cache:     cfg.cache,
		Listener:  hooksListener{hooks: hooks},
		Offline:   cfg.offline,
		Logger:    logger,
		Telemetry: tel,
	})
	return c, nil
}

// GetBoolValue evaluates a bool flag, returning defaultValue when the flag
// cannot be evaluated. Pass a nil user to use the default user.
func (c *Client) GetBoolValue(ctx context.Context, key string, defaultValue bool, user *User) bool {
	return c.GetBoolValueDetails(ctx, key, defaultValue, user).Value.(bool)
}

// GetBoolValueDetails is GetBoolValue plus evaluation details.
func (c *Client) GetBoolValueDetails(ctx context.Context, key string, defaultValue bool, user *User) EvaluationDetails {
	return c.details(ctx, key, domain.BoolSetting, defaultValue, user)
}

// GetStringValue evaluates a string flag.
func (c *Client) GetStringValue(ctx context.Context, key string, defaultValue string, user *User) string {
	return c.GetStringValueDetails(ctx, key, defaultValue, user).Value.(string)
}

// GetStringValueDetails is GetStringValue plus evaluation details.
func (c *Client) GetStringValueDetails(ctx context.Context, key string, defaultValue string, user *User) EvaluationDetails {
	return c.details(ctx, key, domain.StringSetting, defaultValue, user)
}

// GetIntValue evaluates an integer flag.
func (c *Client) GetIntValue(ctx context.Context, key string, defaultValue int, user *User) int {
	return c.GetIntValueDetails(ctx, key, defaultValue, user).Value.(int)
}

// GetIntValueDetails is GetIntValue plus evaluation details.
func (c *Client) GetIntValueDetails(ctx context.Context, key string, defaultValue int, user *User) EvaluationDetails {
	return c.details(ctx, key, domain.IntSetting, defaultValue, user)
}

// GetFloatValue evaluates a float flag.
func (c *Client) GetFloatValue(ctx context.Context, key string, defaultValue float64, user *User) float64 {
	return c.GetFloatValueDetails(ctx, key, defaultValue, user).Value.(float64)
}

// GetFloatValueDetails is GetFloatValue plus evaluation details.
func (c *Client) GetFloatValueDetails(ctx context.Context, key string, defaultValue float64, user *User) EvaluationDetails {
	return c.details(ctx, key, domain.FloatSetting, defaultValue, user)
}

// GetAllKeys returns every flag key the client can evaluate, in a stable
// lexicographic order.
func (c *Client) GetAllKeys(ctx context.Context) ([]string, error) {
	if c.localOnly() {
		return c.overrides.keys(), nil
	}
	entry, _ := c.service.GetSettings(ctx)
	if entry.Config.IsEmpty() && c.overrides == nil {
		return nil, &EvaluationError{Reason: "config is not available"}
	}

	seen := map[string]struct{}{}
	var keys []string
	if !entry.Config.IsEmpty() {
		for key := range entry.Config.Settings {
			keys = append(keys, key)
			seen[key] = struct{}{}
		}
	}
	if c.overrides != nil {
		for _, key := range c.overrides.keys() {
			if _, ok := seen[key]; !ok {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetAllValueDetails evaluates every flag for the given user.
func (c *Client) GetAllValueDetails(ctx context.Context, user *User) ([]EvaluationDetails, error) {
	keys, err := c.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]EvaluationDetails, 0, len(keys))
	for _, key := range keys {
		details = append(details, c.details(ctx, key, anySettingType, nil, user))
	}
	return details, nil
}

// GetAllValues evaluates every flag for the given user, keyed by flag key.
func (c *Client) GetAllValues(ctx context.Context, user *User) (map[string]interface{}, error) {
	details, err := c.GetAllValueDetails(ctx, user)
	if err != nil {
		return nil, err
	}
	values := make(map[string]interface{}, len(details))
	for _, d := range details {
		values[d.Key] = d.Value
	}
	return values, nil
}

// GetKeyAndValue finds the flag key and value belonging to a variation ID,
// searching default values, targeting rules and percentage options.
func (c *Client) GetKeyAndValue(ctx context.Context, variationID string) (string, interface{}, error) {
	if c.localOnly() {
		return "", nil, &EvaluationError{Reason: "variation IDs are not available in local-only mode"}
	}
	entry, _ := c.service.GetSettings(ctx)
	if entry.Config.IsEmpty() {
		return "", nil, &EvaluationError{Reason: "config is not available"}
	}
	for key, setting := range entry.Config.Settings {
		if value, ok := variationValue(setting, variationID); ok {
			converted, err := value.Get(setting.Type)
			if err != nil {
				return "", nil, &EvaluationError{FlagKey: key, Reason: "invalid value for variation", Err: err}
			}
			return key, converted, nil
		}
	}
	return "", nil, &NotFoundError{FlagKey: variationID}
}

// Refresh forces a config download regardless of the polling mode.
func (c *Client) Refresh(ctx context.Context) RefreshResult {
	if c.localOnly() {
		return RefreshResult{Success: false, Error: "the client is in local-only mode, it cannot fetch configs"}
	}
	result := c.service.Refresh(ctx)
	return RefreshResult{Success: result.Success, Error: result.Error}
}

// SetOnline re-enables HTTP traffic after SetOffline.
func (c *Client) SetOnline() {
	if c.service != nil {
		c.service.SetOnline()
	}
}

// SetOffline stops all HTTP traffic; cached flag data keeps being served.
func (c *Client) SetOffline() {
	if c.service != nil {
		c.service.SetOffline()
	}
}

// IsOffline reports whether the client refuses to make HTTP calls.
func (c *Client) IsOffline() bool {
	if c.service == nil {
		return true
	}
	return c.service.IsOffline()
}

// SetDefaultUser sets the user used when evaluations receive a nil user.
func (c *Client) SetDefaultUser(user *User) {
	c.defaultUser.Store(user)
}

// ClearDefaultUser removes the default user.
func (c *Client) ClearDefaultUser() {
	c.defaultUser.Store(nil)
}

// Hooks returns the client's event dispatcher.
func (c *Client) Hooks() *Hooks {
	return c.hooks
}

// Close releases the client's resources. It is idempotent; a closed client
// serves default values only.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.service != nil {
		c.service.Close()
	}
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

func (c *Client) localOnly() bool {
	return c.service == nil
}

// details is the single evaluation path behind every getter.
func (c *Client) details(ctx context.Context, key string, expected domain.SettingType, defaultValue interface{}, user *User) EvaluationDetails {
	details := EvaluationDetails{Key: key, Value: defaultValue, IsDefaultValue: true}

	if key == "" {
		details.Error = &ConfigError{Field: "key", Message: "flag key cannot be empty"}
		return details
	}
	if c.closed.Load() {
		details.Error = &EvaluationError{FlagKey: key, Reason: "the client is closed, serving the default value"}
		return details
	}
	if user == nil {
		user = c.defaultUser.Load()
	}
	details.User = user

	if c.overrides != nil && c.overrides.Behavior != RemoteOverLocal {
		if value, ok := c.overrides.resolve(key, user, c.logger); ok {
			return c.finish(overrideDetails(details, value, expected))
		}
		if c.overrides.Behavior == LocalOnly {
			details.Error = &NotFoundError{FlagKey: key, AvailableKeys: c.overrides.keys()}
			return c.finish(details)
		}
	}

	entry, fetchErr := c.service.GetSettings(ctx)
	if entry.Config.IsEmpty() {
		if d, ok := c.remoteOverLocalFallback(ctx, details, expected, user, key); ok {
			return d
		}
		reason := "config is not available, serving the default value"
		if fetchErr != "" {
			reason = fmt.Sprintf("%s (%s)", reason, fetchErr)
		}
		details.Error = &EvaluationError{FlagKey: key, Reason: reason}
		return c.finish(details)
	}
	details.FetchTime = entry.FetchTime

	setting, ok := entry.Config.Settings[key]
	if !ok {
		if d, ok := c.remoteOverLocalFallback(ctx, details, expected, user, key); ok {
			return d
		}
		details.Error = &NotFoundError{FlagKey: key, AvailableKeys: settingKeys(entry.Config.Settings)}
		return c.finish(details)
	}
	if expected != anySettingType && setting.Type != expected {
		details.Error = &EvaluationError{FlagKey: key,
			Reason: fmt.Sprintf("the flag is declared as %s, not %s; serving the default value", setting.Type, expected)}
		return c.finish(details)
	}

	c.telemetry.RecordEvaluation(ctx, key)
	result, err := c.evaluator.Evaluate(setting, key, user.toDomain(), entry.Config.Settings)
	if err != nil {
		details.Error = &EvaluationError{FlagKey: key, Reason: "evaluation failed, serving the default value", Err: err}
		return c.finish(details)
	}
	value, err := result.Value.Get(setting.Type)
	if err != nil {
		details.Error = &EvaluationError{FlagKey: key, Reason: "the evaluated value is invalid, serving the default value", Err: err}
		return c.finish(details)
	}

	details.Value = value
	details.VariationID = result.VariationID
	details.IsDefaultValue = false
	details.MatchedTargetingRule = result.MatchedRule != nil
	details.MatchedPercentageOption = result.MatchedOption != nil
	return c.finish(details)
}

// remoteOverLocalFallback serves the override when the downloaded config
// cannot answer and the behavior allows local fallback.
func (c *Client) remoteOverLocalFallback(ctx context.Context, details EvaluationDetails, expected domain.SettingType, user *User, key string) (EvaluationDetails, bool) {
	if c.overrides == nil || c.overrides.Behavior != RemoteOverLocal {
		return details, false
	}
	value, ok := c.overrides.resolve(key, user, c.logger)
	if !ok {
		return details, false
	}
	return c.finish(overrideDetails(details, value, expected)), true
}

func (c *Client) finish(details EvaluationDetails) EvaluationDetails {
	if details.Error != nil {
		c.logger.Warn().Str("key", details.Key).Err(details.Error).Msg("flag evaluation degraded to the default value")
	}
	c.hooks.invokeFlagEvaluated(&details)
	return details
}

// overrideDetails validates an override value against the requested type.
func overrideDetails(details EvaluationDetails, value interface{}, expected domain.SettingType) EvaluationDetails {
	if expected != anySettingType && !overrideTypeMatches(value, expected) {
		details.Error = &EvaluationError{FlagKey: details.Key,
			Reason: fmt.Sprintf("the override value is not a valid %s; serving the default value", expected)}
		return details
	}
	details.Value = value
	details.IsDefaultValue = false
	return details
}

func overrideTypeMatches(value interface{}, expected domain.SettingType) bool {
	switch expected {
	case domain.BoolSetting:
		_, ok := value.(bool)
		return ok
	case domain.StringSetting:
		_, ok := value.(string)
		return ok
	case domain.IntSetting:
		_, ok := value.(int)
		return ok
	case domain.FloatSetting:
		_, ok := value.(float64)
		return ok
	default:
		return true
	}
}

// variationValue finds the value served for a variation ID within a setting.
func variationValue(setting *domain.Setting, variationID string) (*domain.SettingValue, bool) {
	if setting.VariationID == variationID {
		return setting.Value, true
	}
	for i := range setting.TargetingRules {
		rule := &setting.TargetingRules[i]
		if rule.ServedValue != nil && rule.ServedValue.VariationID == variationID {
			return rule.ServedValue.Value, true
		}
		for j := range rule.PercentageOptions {
			if rule.PercentageOptions[j].VariationID == variationID {
				return rule.PercentageOptions[j].Value, true
			}
		}
	}
	for i := range setting.PercentageOptions {
		if setting.PercentageOptions[i].VariationID == variationID {
			return setting.PercentageOptions[i].Value, true
		}
	}
	return nil, false
}

func settingKeys(settings map[string]*domain.Setting) []string {
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
