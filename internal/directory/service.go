// Package directory maintains object metadata: which object lives at which
// path of a store. Every change bumps the META version of the object and is
// reported to the registered listeners within the same transaction.
package directory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/trans"
	"github.com/iudanet/gophsync/internal/validation"
)

// Listener observes metadata changes inside the changing transaction.
type Listener interface {
	ObjectCreated(t *trans.Trans, obj models.ObjectKey, path string)
	ObjectMoved(t *trans.Trans, obj models.ObjectKey, from, to string)
	ObjectDeleted(t *trans.Trans, obj models.ObjectKey, path string)
	ObjectModified(t *trans.Trans, obj models.ObjectKey, path string)
}

// Versions is the part of version control used by the directory.
type Versions interface {
	UpdateMyVersion(t *trans.Trans, key models.VersionedKey, alias bool) (crdt.Tick, error)
	AliasObject(t *trans.Trans, alias models.ObjectKey, target models.ObjectID) (crdt.Tick, error)
	DeleteVersions(t *trans.Trans, key models.VersionedKey) error
}

// Store is the persistence used by the directory.
type Store interface {
	storage.ObjectStore
	storage.BranchStore
}

// Service manages object metadata.
type Service struct {
	store     Store
	versions  Versions
	clock     clockwork.Clock
	logger    *slog.Logger
	listeners []Listener
}

// New creates a new directory service.
func New(store Store, versions Versions, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		store:    store,
		versions: versions,
		clock:    clock,
		logger:   logger,
	}
}

// AddListener registers l.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Create creates a new object at path.
// Returns storage.ErrPathTaken if the path already belongs to another object.
func (s *Service) Create(t *trans.Trans, store models.StoreID, path string) (*models.ObjectMeta, error) {
	if err := validation.ValidateStoreID(string(store)); err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectPath(path); err != nil {
		return nil, err
	}

	obj := &models.ObjectMeta{
		CreatedAt: s.clock.Now().UTC(),
		Store:     store,
		ID:        models.NewObjectID(),
		Path:      path,
	}
	if err := s.store.PutObject(t.Tx(), obj); err != nil {
		return nil, fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := s.versions.UpdateMyVersion(t, models.MetaKey(store, obj.ID), false); err != nil {
		return nil, err
	}

	for _, l := range s.listeners {
		l.ObjectCreated(t, obj.Key(), path)
	}

	s.logger.Debug("object created", "store", store, "object", obj.ID, "path", path)
	return obj, nil
}

// Move changes the path of obj.
func (s *Service) Move(t *trans.Trans, key models.ObjectKey, to string) (*models.ObjectMeta, error) {
	if err := validation.ValidateObjectPath(to); err != nil {
		return nil, err
	}

	obj, err := s.store.GetObject(t.Tx(), key)
	if err != nil {
		return nil, err
	}
	from := obj.Path
	if from == to {
		return obj, nil
	}

	obj.Path = to
	if err := s.store.PutObject(t.Tx(), obj); err != nil {
		return nil, fmt.Errorf("failed to move object: %w", err)
	}
	if _, err := s.versions.UpdateMyVersion(t, models.MetaKey(key.Store, key.Object), false); err != nil {
		return nil, err
	}

	for _, l := range s.listeners {
		l.ObjectMoved(t, key, from, to)
	}

	s.logger.Debug("object moved", "object", key, "from", from, "to", to)
	return obj, nil
}

// Delete removes obj with its branches. The META version is bumped so that
// peers learn about the deletion; content versions are dropped.
func (s *Service) Delete(t *trans.Trans, key models.ObjectKey) error {
	tx := t.Tx()

	obj, err := s.store.GetObject(tx, key)
	if err != nil {
		return err
	}

	branches, err := s.store.ListBranches(tx, key)
	if err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}
	for _, b := range branches {
		if err := s.store.DeleteBranch(tx, b.Key); err != nil {
			return fmt.Errorf("failed to delete branch: %w", err)
		}
		if err := s.versions.DeleteVersions(t, b.Key); err != nil {
			return err
		}
	}

	if err := s.store.DeleteObject(tx, key); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if _, err := s.versions.UpdateMyVersion(t, models.MetaKey(key.Store, key.Object), false); err != nil {
		return err
	}

	for _, l := range s.listeners {
		l.ObjectDeleted(t, key, obj.Path)
	}

	s.logger.Debug("object deleted", "object", key, "path", obj.Path)
	return nil
}

// Modified reports a content change of obj to the listeners.
func (s *Service) Modified(t *trans.Trans, key models.ObjectKey) error {
	obj, err := s.store.GetObject(t.Tx(), key)
	if err != nil {
		return err
	}
	for _, l := range s.listeners {
		l.ObjectModified(t, key, obj.Path)
	}
	return nil
}

// Alias merges alias into target: versions of alias move to target, the
// target gets an alias tick and alias is removed from the directory.
func (s *Service) Alias(t *trans.Trans, alias models.ObjectKey, target models.ObjectID) (crdt.Tick, error) {
	tx := t.Tx()

	if _, err := s.store.GetObject(tx, models.ObjectKey{Store: alias.Store, Object: target}); err != nil {
		return crdt.Zero, fmt.Errorf("alias target: %w", err)
	}

	tick, err := s.versions.AliasObject(t, alias, target)
	if err != nil {
		return crdt.Zero, err
	}

	branches, err := s.store.ListBranches(tx, alias)
	if err != nil {
		return crdt.Zero, fmt.Errorf("failed to list branches: %w", err)
	}
	for _, b := range branches {
		if err := s.store.DeleteBranch(tx, b.Key); err != nil {
			return crdt.Zero, fmt.Errorf("failed to delete branch: %w", err)
		}
	}

	err = s.store.DeleteObject(tx, alias)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return crdt.Zero, fmt.Errorf("failed to delete alias: %w", err)
	}

	s.logger.Info("object aliased", "alias", alias, "target", target, "tick", tick)
	return tick, nil
}

// Resolve returns the object at path.
func (s *Service) Resolve(tx storage.Tx, store models.StoreID, path string) (*models.ObjectMeta, error) {
	return s.store.ResolvePath(tx, store, path)
}

// Get returns the object of key.
func (s *Service) Get(tx storage.Tx, key models.ObjectKey) (*models.ObjectMeta, error) {
	return s.store.GetObject(tx, key)
}

// List returns the objects of store ordered by path.
func (s *Service) List(tx storage.Tx, store models.StoreID) ([]*models.ObjectMeta, error) {
	return s.store.ListObjects(tx, store)
}
