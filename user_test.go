package flagdock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserAttributes(t *testing.T) {
	user := NewUser("u1").
		WithEmail("a@b.c").
		WithCountry("DE").
		WithAttribute("Plan", "pro")

	value, ok := user.Attribute("Identifier")
	assert.True(t, ok)
	assert.Equal(t, "u1", value)

	value, ok = user.Attribute("Email")
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", value)

	value, ok = user.Attribute("Country")
	assert.True(t, ok)
	assert.Equal(t, "DE", value)

	_, ok = user.Attribute("plan")
	assert.False(t, ok, "attribute names are case sensitive")
}

func TestUserIsImmutable(t *testing.T) {
	base := NewUser("u1").WithAttribute("Plan", "free")
	upgraded := base.WithAttribute("Plan", "pro")

	value, _ := base.Attribute("Plan")
	assert.Equal(t, "free", value)
	value, _ = upgraded.Attribute("Plan")
	assert.Equal(t, "pro", value)
}

func TestUserAttributeCanonicalization(t *testing.T) {
	signedUp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"string", "plain", "plain"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 3.14, "3.14"},
		{"float without fraction", 3.0, "3"},
		{"bool", true, "true"},
		{"time", signedUp, "1714564800"},
		{"string slice", []string{"a", "b", "c"}, "a,b,c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUser("u").WithAttribute("X", tt.value)
			value, ok := u.Attribute("X")
			assert.True(t, ok)
			assert.Equal(t, tt.want, value)
		})
	}
}
