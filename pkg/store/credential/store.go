/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credential implements the prover's private credential store. It
// holds received credentials and their revocation states; master secret
// material never enters this store.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/spi/storage"
)

const (
	storeName = "wallet"

	tagMasterSecretID = "masterSecretID"
)

// Record is one wallet entry: a processed credential together with the
// master secret it is bound to and, for revocable credentials, the prover's
// current revocation state.
type Record struct {
	Credential     *anoncreds.Credential      `json:"credential"`
	MasterSecretID string                     `json:"masterSecretId"`
	RevState       *anoncreds.RevocationState `json:"revState,omitempty"`
}

// Store is the prover wallet.
type Store struct {
	store storage.Store
}

// Open opens the wallet in the given storage provider.
func Open(provider storage.Provider) (*Store, error) {
	store, err := provider.OpenStore(storeName)
	if err != nil {
		return nil, fmt.Errorf("open wallet store: %w", err)
	}

	err = provider.SetStoreConfig(storeName, storage.StoreConfiguration{TagNames: []string{tagMasterSecretID}})
	if err != nil {
		return nil, fmt.Errorf("configure wallet store: %w", err)
	}

	return &Store{store: store}, nil
}

// Save stores the record, replacing any prior credential held for the same
// credential definition under the same master secret.
func (s *Store) Save(record *Record) error {
	if record.Credential == nil {
		return anoncreds.NewValidationError("wallet record has no credential")
	}

	if record.MasterSecretID == "" {
		return anoncreds.NewValidationError("wallet record has no master secret id")
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal wallet record: %w", err)
	}

	key := recordKey(record.Credential.SchemaID, record.Credential.CredDefID, record.MasterSecretID)

	return s.store.Put(key, value, storage.Tag{Name: tagMasterSecretID, Value: record.MasterSecretID})
}

// Get returns the record held for the given schema and credential definition
// under the master secret.
func (s *Store) Get(schemaID anoncreds.SchemaID, credDefID anoncreds.CredDefID,
	masterSecretID string) (*Record, error) {
	value, err := s.store.Get(recordKey(schemaID, credDefID, masterSecretID))
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, &anoncreds.CredentialNotFoundError{FieldRef: anoncreds.CredentialFieldReference{
			SchemaID:  schemaID,
			CredDefID: credDefID,
		}}
	}

	if err != nil {
		return nil, fmt.Errorf("read wallet record: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, fmt.Errorf("unmarshal wallet record: %w", err)
	}

	return record, nil
}

// FindByFieldRef returns a record whose credential carries the referenced
// attribute and matches the reference's identifiers.
func (s *Store) FindByFieldRef(fieldRef anoncreds.CredentialFieldReference,
	masterSecretID string) (*Record, error) {
	records, err := s.List(masterSecretID)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		cred := record.Credential

		if _, ok := cred.Values[fieldRef.FieldName]; !ok {
			continue
		}

		if fieldRef.SchemaID != "" && cred.SchemaID != fieldRef.SchemaID {
			continue
		}

		if fieldRef.CredDefID != "" && cred.CredDefID != fieldRef.CredDefID {
			continue
		}

		return record, nil
	}

	return nil, &anoncreds.CredentialNotFoundError{FieldRef: fieldRef}
}

// List returns all records bound to the master secret.
func (s *Store) List(masterSecretID string) ([]*Record, error) {
	iterator, err := s.store.Query(tagMasterSecretID + ":" + masterSecretID)
	if err != nil {
		return nil, fmt.Errorf("query wallet: %w", err)
	}

	defer iterator.Close() // nolint:errcheck

	var records []*Record

	for {
		more, err := iterator.Next()
		if err != nil {
			return nil, err
		}

		if !more {
			return records, nil
		}

		value, err := iterator.Value()
		if err != nil {
			return nil, err
		}

		record := &Record{}
		if err := json.Unmarshal(value, record); err != nil {
			return nil, fmt.Errorf("unmarshal wallet record: %w", err)
		}

		records = append(records, record)
	}
}

// UpdateRevState replaces the stored revocation state of a record.
func (s *Store) UpdateRevState(schemaID anoncreds.SchemaID, credDefID anoncreds.CredDefID,
	masterSecretID string, state *anoncreds.RevocationState) error {
	record, err := s.Get(schemaID, credDefID, masterSecretID)
	if err != nil {
		return err
	}

	record.RevState = state

	return s.Save(record)
}

// Delete removes the record.
func (s *Store) Delete(schemaID anoncreds.SchemaID, credDefID anoncreds.CredDefID,
	masterSecretID string) error {
	return s.store.Delete(recordKey(schemaID, credDefID, masterSecretID))
}

func recordKey(schemaID anoncreds.SchemaID, credDefID anoncreds.CredDefID, masterSecretID string) string {
	return string(schemaID) + "|" + string(credDefID) + "|" + masterSecretID
}
