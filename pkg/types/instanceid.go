package types

import (
	"encoding/json"
	"sort"
	"strings"
)

// InstanceID is the canonical identifier of an entity: "@<name>@<key>".
// name is compared and stored case-insensitively; key preserves case.
type InstanceID struct {
	name string // always lower-cased
	key  string
}

// NewInstanceID constructs an InstanceID from a raw name and key.
// It rejects an empty name, an empty key, or a name containing "@".
func NewInstanceID(name, key string) (InstanceID, error) {
	if name == "" {
		return InstanceID{}, ErrEmptyEntityName
	}
	if key == "" {
		return InstanceID{}, ErrEmptyEntityKey
	}
	if strings.Contains(name, "@") {
		return InstanceID{}, ErrInvalidEntityName
	}
	return InstanceID{name: strings.ToLower(name), key: key}, nil
}

// ParseInstanceID parses the canonical wire form "@<name>@<key>".
func ParseInstanceID(s string) (InstanceID, error) {
	if !strings.HasPrefix(s, "@") {
		return InstanceID{}, InvalidEntityID{Raw: s, Reason: "must start with '@'"}
	}
	rest := s[1:]
	sep := strings.Index(rest, "@")
	if sep < 0 {
		return InstanceID{}, InvalidEntityID{Raw: s, Reason: "missing second '@'"}
	}
	name, key := rest[:sep], rest[sep+1:]
	id, err := NewInstanceID(name, key)
	if err != nil {
		return InstanceID{}, InvalidEntityID{Raw: s, Reason: err.Error()}
	}
	return id, nil
}

// IsEntityID reports whether s is reserved as an entity instance ID
// (begins with '@'). Orchestration queries must reject such IDs.
func IsEntityID(s string) bool {
	return strings.HasPrefix(s, "@")
}

// Name returns the lower-cased entity name.
func (id InstanceID) Name() string { return id.name }

// Key returns the entity key, verbatim.
func (id InstanceID) Key() string { return id.key }

// String renders the canonical "@<name>@<key>" wire form.
func (id InstanceID) String() string {
	return "@" + id.name + "@" + id.key
}

// Equal compares two instance IDs by (name_lowercased, key).
func (id InstanceID) Equal(other InstanceID) bool {
	return id.name == other.name && id.key == other.key
}

// Less orders instance IDs lexicographically on (name, key), the total
// order the Lock Manager uses to sort multi-entity acquisitions (§4.5).
func (id InstanceID) Less(other InstanceID) bool {
	if id.name != other.name {
		return id.name < other.name
	}
	return id.key < other.key
}

// MarshalJSON renders the canonical wire form, or an empty string for
// the zero value, so a zero InstanceID round-trips instead of becoming
// the empty-but-invalid "@@".
func (id InstanceID) MarshalJSON() ([]byte, error) {
	if id.name == "" && id.key == "" {
		return json.Marshal("")
	}
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical wire form produced by MarshalJSON.
func (id *InstanceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = InstanceID{}
		return nil
	}
	parsed, err := ParseInstanceID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortInstanceIDs returns a sorted copy of ids, the order in which the
// lock manager issues lock-request messages for a critical section.
func SortInstanceIDs(ids []InstanceID) []InstanceID {
	out := make([]InstanceID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
