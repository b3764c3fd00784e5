/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem provides an in-memory implementation of the storage interfaces.
package mem

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	spi "github.com/DevAlexey/cordentity-1/spi/storage"
)

const (
	expressionTagNameOnlyLength     = 1
	expressionTagNameAndValueLength = 2

	invalidTagName  = `"%s" is an invalid tag name since it contains one or more ':' characters`
	invalidTagValue = `"%s" is an invalid tag value since it contains one or more ':' characters`
)

var (
	errEmptyKey                     = errors.New("key cannot be empty")
	errInvalidQueryExpressionFormat = errors.New("invalid expression format. " +
		"it must be in the following format: TagName:TagValue")
	errIteratorExhausted = errors.New("iterator is exhausted")
)

// Provider represents an in-memory implementation of the spi.Provider interface.
type Provider struct {
	dbs  map[string]*memStore
	lock sync.RWMutex
}

// NewProvider instantiates a new in-memory storage Provider.
func NewProvider() *Provider {
	return &Provider{dbs: make(map[string]*memStore)}
}

// OpenStore opens a store with the given name and returns a handle.
// If the store has never been opened before, then it is created.
func (p *Provider) OpenStore(name string) (spi.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}

	storeName := strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	store := p.dbs[storeName]
	if store == nil {
		store = &memStore{name: storeName, db: make(map[string]dbEntry)}
		p.dbs[storeName] = store
	}

	return store, nil
}

// SetStoreConfig sets the configuration on a store.
// The store must be created prior to calling this method.
func (p *Provider) SetStoreConfig(name string, config spi.StoreConfiguration) error {
	for _, tagName := range config.TagNames {
		if strings.Contains(tagName, ":") {
			return fmt.Errorf(invalidTagName, tagName)
		}
	}

	p.lock.RLock()
	defer p.lock.RUnlock()

	store, ok := p.dbs[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("failed to set store configuration: %w", spi.ErrStoreNotFound)
	}

	store.setConfig(config)

	return nil
}

// GetStoreConfig gets the current store configuration.
func (p *Provider) GetStoreConfig(name string) (spi.StoreConfiguration, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	store, ok := p.dbs[strings.ToLower(name)]
	if !ok {
		return spi.StoreConfiguration{}, fmt.Errorf("failed to get store configuration: %w", spi.ErrStoreNotFound)
	}

	return store.config(), nil
}

// Close closes all stores created under this store provider.
func (p *Provider) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.dbs = make(map[string]*memStore)

	return nil
}

type dbEntry struct {
	value []byte
	tags  []spi.Tag
}

type memStore struct {
	name      string
	db        map[string]dbEntry
	storeConf spi.StoreConfiguration
	lock      sync.RWMutex
}

func (s *memStore) Put(key string, value []byte, tags ...spi.Tag) error {
	if key == "" {
		return errEmptyKey
	}

	if value == nil {
		return errors.New("value cannot be nil")
	}

	for _, tag := range tags {
		if strings.Contains(tag.Name, ":") {
			return fmt.Errorf(invalidTagName, tag.Name)
		}

		if strings.Contains(tag.Value, ":") {
			return fmt.Errorf(invalidTagValue, tag.Value)
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.db[key] = dbEntry{value: value, tags: tags}

	return nil
}

func (s *memStore) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.db[key]
	if !ok {
		return nil, spi.ErrDataNotFound
	}

	return entry.value, nil
}

func (s *memStore) GetTags(key string) ([]spi.Tag, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.db[key]
	if !ok {
		return nil, spi.ErrDataNotFound
	}

	return entry.tags, nil
}

func (s *memStore) Query(expression string) (spi.Iterator, error) {
	if expression == "" {
		return nil, errInvalidQueryExpressionFormat
	}

	expressionSplit := strings.Split(expression, ":")

	var expressionTagName, expressionTagValue string

	switch len(expressionSplit) {
	case expressionTagNameOnlyLength:
		expressionTagName = expressionSplit[0]
	case expressionTagNameAndValueLength:
		expressionTagName = expressionSplit[0]
		expressionTagValue = expressionSplit[1]
	default:
		return nil, errInvalidQueryExpressionFormat
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	var keys []string

	var entries []dbEntry

	for key, entry := range s.db {
		for _, tag := range entry.tags {
			if tag.Name != expressionTagName {
				continue
			}

			if expressionTagValue == "" || tag.Value == expressionTagValue {
				keys = append(keys, key)
				entries = append(entries, entry)

				break
			}
		}
	}

	return &memIterator{keys: keys, entries: entries}, nil
}

func (s *memStore) Delete(key string) error {
	if key == "" {
		return errEmptyKey
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.db, key)

	return nil
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) setConfig(config spi.StoreConfiguration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.storeConf = config
}

func (s *memStore) config() spi.StoreConfiguration {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.storeConf
}

type memIterator struct {
	currentIndex int
	started      bool
	keys         []string
	entries      []dbEntry
}

func (i *memIterator) Next() (bool, error) {
	if len(i.entries) == i.currentIndex || len(i.entries) == 0 {
		i.entries = nil
		return false, nil
	}

	if i.started {
		i.currentIndex++

		if len(i.entries) == i.currentIndex {
			i.entries = nil
			return false, nil
		}
	}

	i.started = true

	return true, nil
}

func (i *memIterator) Key() (string, error) {
	if len(i.entries) == 0 {
		return "", errIteratorExhausted
	}

	return i.keys[i.currentIndex], nil
}

func (i *memIterator) Value() ([]byte, error) {
	if len(i.entries) == 0 {
		return nil, errIteratorExhausted
	}

	return i.entries[i.currentIndex].value, nil
}

func (i *memIterator) Tags() ([]spi.Tag, error) {
	if len(i.entries) == 0 {
		return nil, errIteratorExhausted
	}

	return i.entries[i.currentIndex].tags, nil
}

func (i *memIterator) Close() error {
	return nil
}
