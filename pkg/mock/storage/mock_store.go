/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storage provides error-injectable storage mocks for tests.
package storage

import (
	"fmt"
	"sync"

	"github.com/DevAlexey/cordentity-1/spi/storage"
)

// MockStoreProvider is a storage provider with injectable failures.
type MockStoreProvider struct {
	Store              *MockStore
	ErrOpenStoreHandle error
	ErrSetStoreConfig  error
	ErrClose           error
	FailNamespace      string
}

// NewMockStoreProvider returns a provider wrapping a fresh MockStore.
func NewMockStoreProvider() *MockStoreProvider {
	return &MockStoreProvider{Store: &MockStore{Store: make(map[string]DBEntry)}}
}

// OpenStore returns the underlying store, or the injected error.
func (p *MockStoreProvider) OpenStore(name string) (storage.Store, error) {
	if name == p.FailNamespace {
		return nil, fmt.Errorf("failure while opening store %s", name)
	}

	if p.ErrOpenStoreHandle != nil {
		return nil, p.ErrOpenStoreHandle
	}

	return p.Store, nil
}

// SetStoreConfig returns the injected error, if any.
func (p *MockStoreProvider) SetStoreConfig(string, storage.StoreConfiguration) error {
	return p.ErrSetStoreConfig
}

// GetStoreConfig returns an empty configuration.
func (p *MockStoreProvider) GetStoreConfig(string) (storage.StoreConfiguration, error) {
	return storage.StoreConfiguration{}, nil
}

// Close returns the injected error, if any.
func (p *MockStoreProvider) Close() error {
	return p.ErrClose
}

// DBEntry is a value plus its tags.
type DBEntry struct {
	Value []byte
	Tags  []storage.Tag
}

// MockStore is an in-memory store with injectable failures.
type MockStore struct {
	Store     map[string]DBEntry
	lock      sync.RWMutex
	ErrPut    error
	ErrGet    error
	ErrDelete error
	ErrQuery  error
	ErrNext   error
	ErrClose  error
}

// Put stores the value, or returns the injected error.
func (s *MockStore) Put(key string, value []byte, tags ...storage.Tag) error {
	if s.ErrPut != nil {
		return s.ErrPut
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.Store[key] = DBEntry{Value: value, Tags: tags}

	return nil
}

// Get returns the stored value, or the injected error.
func (s *MockStore) Get(key string) ([]byte, error) {
	if s.ErrGet != nil {
		return nil, s.ErrGet
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.Store[key]
	if !ok {
		return nil, storage.ErrDataNotFound
	}

	return entry.Value, nil
}

// GetTags returns the stored tags, or the injected error.
func (s *MockStore) GetTags(key string) ([]storage.Tag, error) {
	if s.ErrGet != nil {
		return nil, s.ErrGet
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.Store[key]
	if !ok {
		return nil, storage.ErrDataNotFound
	}

	return entry.Tags, nil
}

// Query returns an iterator over entries carrying the tag expression's tag.
func (s *MockStore) Query(expression string) (storage.Iterator, error) {
	if s.ErrQuery != nil {
		return nil, s.ErrQuery
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	var keys []string

	var entries []DBEntry

	for key, entry := range s.Store {
		for _, tag := range entry.Tags {
			if tag.Name+":"+tag.Value == expression || tag.Name == expression {
				keys = append(keys, key)
				entries = append(entries, entry)

				break
			}
		}
	}

	return &mockIterator{keys: keys, entries: entries, errNext: s.ErrNext, errClose: s.ErrClose}, nil
}

// Delete removes the entry, or returns the injected error.
func (s *MockStore) Delete(key string) error {
	if s.ErrDelete != nil {
		return s.ErrDelete
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.Store, key)

	return nil
}

// Close returns the injected error, if any.
func (s *MockStore) Close() error {
	return s.ErrClose
}

type mockIterator struct {
	pos      int
	keys     []string
	entries  []DBEntry
	errNext  error
	errClose error
}

func (i *mockIterator) Next() (bool, error) {
	if i.errNext != nil {
		return false, i.errNext
	}

	if i.pos >= len(i.entries) {
		return false, nil
	}

	i.pos++

	return true, nil
}

func (i *mockIterator) Key() (string, error) {
	return i.keys[i.pos-1], nil
}

func (i *mockIterator) Value() ([]byte, error) {
	return i.entries[i.pos-1].Value, nil
}

func (i *mockIterator) Tags() ([]storage.Tag, error) {
	return i.entries[i.pos-1].Tags, nil
}

func (i *mockIterator) Close() error {
	return i.errClose
}
