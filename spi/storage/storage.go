/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storage defines the storage provider interfaces used for ledger
// records and for the prover's private credential store.
package storage

import "errors"

var (
	// ErrStoreNotFound is returned when a store is not found.
	ErrStoreNotFound = errors.New("store not found")
	// ErrDataNotFound is returned when data is not found.
	ErrDataNotFound = errors.New("data not found")
)

// StoreConfiguration represents the configuration of a store.
// It is used for creating indexes in underlying storage databases.
type StoreConfiguration struct {
	// TagNames is a list of Tag names to create indexes on.
	// Tag names cannot contain any ':' characters.
	TagNames []string `json:"tagNames,omitempty"`
}

// Tag represents a Name + Value pair that can be associated with a key + value
// pair for querying later. Tag names and values cannot contain ':' characters.
type Tag struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Provider represents a storage provider.
type Provider interface {
	// OpenStore opens a Store with the given name and returns it.
	// If the store has never been opened before, then it is created.
	// Store names are not case-sensitive. If name is blank, then an error will be returned.
	OpenStore(name string) (Store, error)

	// SetStoreConfig sets the configuration on a Store. The store must be
	// created prior to calling this method. If the store cannot be found,
	// then an error wrapping ErrStoreNotFound will be returned.
	SetStoreConfig(name string, config StoreConfiguration) error

	// GetStoreConfig gets the current Store configuration.
	// If the store cannot be found, then an error wrapping ErrStoreNotFound will be returned.
	GetStoreConfig(name string) (StoreConfiguration, error)

	// Close closes all open Stores in this Provider.
	Close() error
}

// Store represents a storage database.
type Store interface {
	// Put stores the key + value pair along with the (optional) tags.
	// If the key already exists in the database, then the value and tags will
	// be overwritten silently. If key is empty or value is nil, then an error
	// will be returned.
	Put(key string, value []byte, tags ...Tag) error

	// Get fetches the value associated with the given key.
	// If key cannot be found, then an error wrapping ErrDataNotFound will be returned.
	Get(key string) ([]byte, error)

	// GetTags fetches all tags associated with the given key.
	// If key cannot be found, then an error wrapping ErrDataNotFound will be returned.
	GetTags(key string) ([]Tag, error)

	// Query returns all data that satisfies the expression. The expression
	// must be in the format "TagName:TagValue" to find all data tagged with
	// that name + value pair, or "TagName" to find all data tagged with the
	// name regardless of value.
	Query(expression string) (Iterator, error)

	// Delete deletes the key + value pair (and all of its tags) associated
	// with the given key. If the key does not exist, this is a no-op.
	Delete(key string) error

	// Close closes this store object, freeing resources.
	Close() error
}

// Iterator allows for iteration over a collection of entries in a store.
type Iterator interface {
	// Next moves the pointer to the next entry in the iterator.
	// It returns false if the iterator is exhausted.
	Next() (bool, error)

	// Key returns the key of the current entry.
	Key() (string, error)

	// Value returns the value of the current entry.
	Value() ([]byte, error)

	// Tags returns the tags associated with the key of the current entry.
	Tags() ([]Tag, error)

	// Close closes this iterator object, freeing resources.
	Close() error
}
