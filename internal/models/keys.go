package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DeviceID уникальный идентификатор устройства (узла) в p2p сети.
type DeviceID string

// NewDeviceID создает новый идентификатор устройства (UUID).
func NewDeviceID() DeviceID {
	return DeviceID(uuid.New().String())
}

// ObjectID уникальный идентификатор синхронизируемого объекта (файла или директории).
type ObjectID string

// NewObjectID создает новый идентификатор объекта (UUID).
func NewObjectID() ObjectID {
	return ObjectID(uuid.New().String())
}

// StoreID идентификатор хранилища (shared folder), которому принадлежит объект.
type StoreID string

// Component identifies which part of an object a version refers to.
type Component uint8

const (
	ComponentMeta    Component = iota // ComponentMeta имя, путь и прочие метаданные
	ComponentContent                  // ComponentContent содержимое файла
)

// String returns the stable textual form used in storage keys.
func (c Component) String() string {
	switch c {
	case ComponentMeta:
		return "meta"
	case ComponentContent:
		return "content"
	default:
		return fmt.Sprintf("component(%d)", uint8(c))
	}
}

// ParseComponent parses the textual form produced by Component.String.
func ParseComponent(s string) (Component, error) {
	switch s {
	case "meta":
		return ComponentMeta, nil
	case "content":
		return ComponentContent, nil
	default:
		return 0, fmt.Errorf("unknown component %q", s)
	}
}

// BranchIndex identifies an alternate content revision (conflict fork) of an object.
type BranchIndex uint32

// MasterBranch is the branch holding the content visible at the object's path.
const MasterBranch BranchIndex = 0

// IsMaster reports whether b is the master branch.
func (b BranchIndex) IsMaster() bool {
	return b == MasterBranch
}

// ObjectKey identifies an object within a store.
type ObjectKey struct {
	Store  StoreID
	Object ObjectID
}

// String returns "store/object".
func (k ObjectKey) String() string {
	return string(k.Store) + "/" + string(k.Object)
}

// VersionedKey identifies one versioned content unit: a component of an object on a branch.
// Metadata always lives on the master branch.
type VersionedKey struct {
	Store     StoreID
	Object    ObjectID
	Component Component
	Branch    BranchIndex
}

// MetaKey returns the key of the metadata component of an object.
func MetaKey(store StoreID, obj ObjectID) VersionedKey {
	return VersionedKey{Store: store, Object: obj, Component: ComponentMeta}
}

// ContentKey returns the key of a content branch of an object.
func ContentKey(store StoreID, obj ObjectID, branch BranchIndex) VersionedKey {
	return VersionedKey{Store: store, Object: obj, Component: ComponentContent, Branch: branch}
}

// ObjectKey returns the object part of the key.
func (k VersionedKey) ObjectKey() ObjectKey {
	return ObjectKey{Store: k.Store, Object: k.Object}
}

// WithObject returns a copy of the key pointing at another object of the same store.
func (k VersionedKey) WithObject(obj ObjectID) VersionedKey {
	k.Object = obj
	return k
}

// WithBranch returns a copy of the key pointing at another branch.
func (k VersionedKey) WithBranch(branch BranchIndex) VersionedKey {
	k.Branch = branch
	return k
}

// String returns "store/object/component/branch".
// The form is used as a storage key, so store and object ids must not contain '/'.
func (k VersionedKey) String() string {
	return string(k.Store) + "/" + string(k.Object) + "/" + k.Component.String() + "/" +
		strconv.FormatUint(uint64(k.Branch), 10)
}

// MarshalText allows VersionedKey to be used as a JSON map key.
func (k VersionedKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (k *VersionedKey) UnmarshalText(text []byte) error {
	parsed, err := ParseVersionedKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseVersionedKey parses the form produced by VersionedKey.String.
func ParseVersionedKey(s string) (VersionedKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" {
		return VersionedKey{}, fmt.Errorf("malformed versioned key %q", s)
	}

	component, err := ParseComponent(parts[2])
	if err != nil {
		return VersionedKey{}, fmt.Errorf("malformed versioned key %q: %w", s, err)
	}

	branch, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return VersionedKey{}, fmt.Errorf("malformed branch in key %q: %w", s, err)
	}

	return VersionedKey{
		Store:     StoreID(parts[0]),
		Object:    ObjectID(parts[1]),
		Component: component,
		Branch:    BranchIndex(branch),
	}, nil
}
