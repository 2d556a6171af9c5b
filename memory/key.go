package memory

import (
	"maps"
	"net/url"
	"strconv"
)

// Key identifies a memory cache entry. Two keys are equal when their primary
// keys match and their extras hold the same pairs, in any order. Keys are
// immutable; NewKey copies extras.
type Key struct {
	primary string
	extras  map[string]string
}

// NewKey creates a key. extras may be nil.
func NewKey(primary string, extras map[string]string) Key {
	k := Key{primary: primary}
	if len(extras) > 0 {
		k.extras = maps.Clone(extras)
	}
	return k
}

// Primary returns the primary key, typically the request URL.
func (k Key) Primary() string { return k.primary }

// Extra returns one extra value.
func (k Key) Extra(name string) (string, bool) {
	v, ok := k.extras[name]
	return v, ok
}

// Extras returns a copy of the extras.
func (k Key) Extras() map[string]string {
	return maps.Clone(k.extras)
}

// Equal reports whether both keys identify the same entry.
func (k Key) Equal(other Key) bool {
	return k.primary == other.primary && maps.Equal(k.extras, other.extras)
}

// String returns the primary key followed by the sorted extras.
func (k Key) String() string {
	if len(k.extras) == 0 {
		return k.primary
	}
	return k.primary + "#" + k.encodeExtras()
}

// id is the map key used by the tiers. The length prefix keeps a primary key
// containing '#' from colliding with a key that has extras.
func (k Key) id() string {
	return strconv.Itoa(len(k.primary)) + ":" + k.String()
}

func (k Key) encodeExtras() string {
	values := make(url.Values, len(k.extras))
	for name, v := range k.extras {
		values.Set(name, v)
	}
	return values.Encode()
}
