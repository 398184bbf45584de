package flagdock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flagdock/flagdock-go/internal/domain"
)

// User identifies the subject of an evaluation: an identifier plus arbitrary
// named attributes. Attribute values are canonicalized to strings once, at
// construction time, so evaluation always compares the same representation:
//
//	numbers    shortest decimal notation ("3", "3.14")
//	time.Time  Unix seconds
//	[]string   comma-joined
//	bool       "true" / "false"
//
// A User is immutable after construction; the With methods return copies.
type User struct {
	identifier string
	attributes map[string]string
}

// NewUser creates a user with the given identifier.
func NewUser(identifier string) *User {
	return &User{identifier: identifier, attributes: map[string]string{}}
}

// Identifier returns the user's identifier.
func (u *User) Identifier() string {
	return u.identifier
}

// WithAttribute returns a copy of the user with the attribute set.
// Attribute names are case sensitive.
func (u *User) WithAttribute(name string, value interface{}) *User {
	attributes := make(map[string]string, len(u.attributes)+1)
	for k, v := range u.attributes {
		attributes[k] = v
	}
	attributes[name] = canonicalAttributeValue(value)
	return &User{identifier: u.identifier, attributes: attributes}
}

// WithEmail returns a copy of the user with the "Email" attribute set.
func (u *User) WithEmail(email string) *User {
	return u.WithAttribute("Email", email)
}

// WithCountry returns a copy of the user with the "Country" attribute set.
func (u *User) WithCountry(country string) *User {
	return u.WithAttribute("Country", country)
}

// Attribute returns the canonical string form of a named attribute.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil {
		return "", false
	}
	if name == "Identifier" {
		return u.identifier, true
	}
	value, ok := u.attributes[name]
	return value, ok
}

// toDomain converts the user to the evaluator's representation.
func (u *User) toDomain() *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{Identifier: u.identifier, Attributes: u.attributes}
}

func canonicalAttributeValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return strconv.FormatInt(v.Unix(), 10)
	case []string:
		return strings.Join(v, ",")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
