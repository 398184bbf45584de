package flagdock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOnlyOverrides(t *testing.T) {
	client, err := New("test-sdk-key", WithOverrides(&FlagOverrides{
		Behavior: LocalOnly,
		Values: map[string]interface{}{
			"enabled":  true,
			"greeting": "local",
		},
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx := context.Background()
	assert.True(t, client.GetBoolValue(ctx, "enabled", false, nil))
	assert.Equal(t, "local", client.GetStringValue(ctx, "greeting", "x", nil))

	details := client.GetBoolValueDetails(ctx, "unknown", true, nil)
	assert.Equal(t, true, details.Value)
	assert.True(t, IsNotFound(details.Error))

	keys, err := client.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"enabled", "greeting"}, keys)

	// No endpoint traffic in local-only mode.
	assert.True(t, client.IsOffline())
	assert.False(t, client.Refresh(ctx).Success)
}

func TestLocalOverRemoteOverrides(t *testing.T) {
	client := newTestClient(t, WithOverrides(&FlagOverrides{
		Behavior: LocalOverRemote,
		Values:   map[string]interface{}{"greeting": "overridden"},
	}))
	ctx := context.Background()

	assert.Equal(t, "overridden", client.GetStringValue(ctx, "greeting", "x", nil),
		"the override wins over the downloaded flag")
	assert.Equal(t, 10, client.GetIntValue(ctx, "limit", -1, nil),
		"keys without an override come from the downloaded config")
}

func TestRemoteOverLocalOverrides(t *testing.T) {
	client := newTestClient(t, WithOverrides(&FlagOverrides{
		Behavior: RemoteOverLocal,
		Values: map[string]interface{}{
			"greeting":    "ignored",
			"local-extra": "extra",
		},
	}))
	ctx := context.Background()

	assert.Equal(t, "hello", client.GetStringValue(ctx, "greeting", "x", nil),
		"the downloaded flag wins over the override")
	assert.Equal(t, "extra", client.GetStringValue(ctx, "local-extra", "x", nil),
		"overrides fill in keys the downloaded config lacks")

	keys, err := client.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "local-extra")
}

func TestOverrideRules(t *testing.T) {
	client, err := New("test-sdk-key", WithOverrides(&FlagOverrides{
		Behavior: LocalOnly,
		Values:   map[string]interface{}{"theme": "light"},
		Rules: map[string][]OverrideRule{
			"theme": {
				{Condition: `Email endsWith "@night.io"`, Value: "dark"},
				{Condition: `Country == "NO"`, Value: "midnight"},
			},
		},
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	ctx := context.Background()

	assert.Equal(t, "dark", client.GetStringValue(ctx, "theme", "x",
		NewUser("u1").WithEmail("owl@night.io")))
	assert.Equal(t, "midnight", client.GetStringValue(ctx, "theme", "x",
		NewUser("u2").WithCountry("NO")))
	assert.Equal(t, "light", client.GetStringValue(ctx, "theme", "x",
		NewUser("u3").WithEmail("a@day.io")))
	assert.Equal(t, "light", client.GetStringValue(ctx, "theme", "x", nil),
		"a nil user matches no rule and falls back to the plain value")
}

func TestOverrideRuleInvalidConditionIsSkipped(t *testing.T) {
	client, err := New("test-sdk-key", WithOverrides(&FlagOverrides{
		Behavior: LocalOnly,
		Values:   map[string]interface{}{"flag": "fallback"},
		Rules: map[string][]OverrideRule{
			"flag": {{Condition: `this is ((( not an expression`, Value: "never"}},
		},
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	assert.Equal(t, "fallback", client.GetStringValue(context.Background(), "flag", "x", NewUser("u")))
}

func TestOverrideTypeMismatchServesDefault(t *testing.T) {
	client, err := New("test-sdk-key", WithOverrides(&FlagOverrides{
		Behavior: LocalOnly,
		Values:   map[string]interface{}{"enabled": "not-a-bool"},
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	details := client.GetBoolValueDetails(context.Background(), "enabled", true, nil)
	assert.Equal(t, true, details.Value)
	assert.True(t, details.IsDefaultValue)
	assert.True(t, IsEvaluationError(details.Error))
}
