package permissions

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidKey = errors.New("invalid permission key")

// Key is a parsed "category:attribute:value" permission key.
type Key struct {
	Category  string `json:"category"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// ParseKey splits a raw key. Attribute and value may be absent when the key
// is only used for a category lookup; a value may itself contain colons.
func ParseKey(raw string) (Key, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	k := Key{Category: strings.TrimSpace(parts[0])}
	if k.Category == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	if len(parts) > 1 {
		k.Attribute = parts[1]
	}
	if len(parts) > 2 {
		k.Value = parts[2]
	}
	return k, nil
}

func (k Key) String() string {
	switch {
	case k.Value != "":
		return k.Category + ":" + k.Attribute + ":" + k.Value
	case k.Attribute != "":
		return k.Category + ":" + k.Attribute
	default:
		return k.Category
	}
}
