package job

import "fmt"

// DefaultGroup is the group assigned to keys created without an explicit group.
const DefaultGroup = "DEFAULT"

// Key identifies a job by (group, name). The zero value is not a valid key.
type Key struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// NewKey builds a job key in the default group.
func NewKey(name string) Key {
	return Key{Group: DefaultGroup, Name: name}
}

// NewKeyWithGroup builds a job key in an explicit group; an empty group maps
// to the default group.
func NewKeyWithGroup(name, group string) Key {
	if group == "" {
		group = DefaultGroup
	}
	return Key{Group: group, Name: name}
}

func (k Key) String() string { return k.Group + "." + k.Name }

// IsZero reports whether the key carries no identity.
func (k Key) IsZero() bool { return k.Group == "" && k.Name == "" }

// Validate rejects keys missing a name.
func (k Key) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("job key requires a name")
	}
	return nil
}

// TriggerKey identifies a trigger by (group, name), in a namespace distinct
// from job keys.
type TriggerKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// NewTriggerKey builds a trigger key in the default group.
func NewTriggerKey(name string) TriggerKey {
	return TriggerKey{Group: DefaultGroup, Name: name}
}

// NewTriggerKeyWithGroup builds a trigger key in an explicit group; an empty
// group maps to the default group.
func NewTriggerKeyWithGroup(name, group string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Group: group, Name: name}
}

func (k TriggerKey) String() string { return k.Group + "." + k.Name }

// IsZero reports whether the key carries no identity.
func (k TriggerKey) IsZero() bool { return k.Group == "" && k.Name == "" }

// Validate rejects keys missing a name.
func (k TriggerKey) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("trigger key requires a name")
	}
	return nil
}
