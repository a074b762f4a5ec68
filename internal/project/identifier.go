package project

import (
	"fmt"
	"regexp"

	"github.com/containerd/errdefs"
)

// identifierPattern matches kebab-case names: lowercase alphanumerics with
// single dashes between them, no leading or trailing dash.
var identifierPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Identifier is a validated name for kits, vendors, and projects.
// The zero value is invalid; construct via NewIdentifier or UnmarshalText.
type Identifier string

// NewIdentifier validates s and returns it as an Identifier.
func NewIdentifier(s string) (Identifier, error) {
	if !identifierPattern.MatchString(s) {
		return "", fmt.Errorf("invalid identifier %q, expected lowercase kebab-case: %w",
			s, errdefs.ErrInvalidArgument)
	}
	return Identifier(s), nil
}

func (i Identifier) String() string {
	return string(i)
}

// MarshalText implements encoding.TextMarshaler so identifiers round-trip
// through JSON and YAML as plain strings.
func (i Identifier) MarshalText() ([]byte, error) {
	return []byte(i), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating on decode.
func (i *Identifier) UnmarshalText(text []byte) error {
	id, err := NewIdentifier(string(text))
	if err != nil {
		return err
	}
	*i = id
	return nil
}
