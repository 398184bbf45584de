package domain

// User is the canonical user snapshot consumed by the evaluator: an
// identifier plus case-sensitive attribute names mapped to canonical string
// representations. The public package owns the conversion from rich
// attribute values to these strings.
type User struct {
	Identifier string
	Attributes map[string]string
}

// Attribute looks up a named attribute. The reserved name "Identifier"
// always resolves to the user's identifier.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil {
		return "", false
	}
	if name == "Identifier" {
		return u.Identifier, true
	}
	value, ok := u.Attributes[name]
	return value, ok
}
