package models

import (
	"bytes"
	"encoding/hex"
	"time"
)

// ContentHash is a chunked content digest: one sub-digest per fixed-size block, concatenated.
type ContentHash []byte

// Equal reports whether both hashes are non-nil and byte-identical.
func (h ContentHash) Equal(other ContentHash) bool {
	if h == nil || other == nil {
		return false
	}
	return bytes.Equal(h, other)
}

// String returns the hex form of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h)
}

// BranchInfo описывает физическое состояние одной ветки содержимого объекта.
type BranchInfo struct {
	Key    VersionedKey `json:"key"`
	Hash   ContentHash  `json:"hash,omitempty"` // Hash nil для master ветки, пока хеш не посчитан
	Length int64        `json:"length"`         // Length размер содержимого в байтах
	Mtime  int64        `json:"mtime"`          // Mtime время модификации (unix nanoseconds)
}

// Clone creates a deep copy of the branch info.
func (b *BranchInfo) Clone() *BranchInfo {
	c := *b
	if b.Hash != nil {
		c.Hash = append(ContentHash(nil), b.Hash...)
	}
	return &c
}

// ObjectMeta описывает синхронизируемый объект и его путь внутри хранилища.
type ObjectMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Store     StoreID   `json:"store"`
	ID        ObjectID  `json:"id"`
	Path      string    `json:"path"` // Path путь относительно корня хранилища, через '/'
}

// Key returns the object key of the meta.
func (o *ObjectMeta) Key() ObjectKey {
	return ObjectKey{Store: o.Store, Object: o.ID}
}
