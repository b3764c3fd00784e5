/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/common/log"
	"github.com/DevAlexey/cordentity-1/spi/storage"
)

var logger = log.New("cordentity/ledger")

const (
	storeName = "ledger"

	seqKey         = "seq"
	identityPrefix = "identity|"
	entriesSuffix  = "|entries"

	tagArtifactType = "artifactType"
	typeSchema      = "schema"
	typeCredDef     = "creddef"
	typeRevReg      = "revreg"
	typeIdentity    = "identity"

	maxReadRetries = 3
	retryInterval  = 50 * time.Millisecond
)

// StoreLedger implements Service on top of a storage provider. With a
// persistent provider it is the production ledger client; with the mem
// provider it doubles as the in-memory test ledger.
type StoreLedger struct {
	store storage.Store
	mu    sync.Mutex // serializes sequence assignment and entry appends
}

// NewStoreLedger opens the ledger store in the given provider.
func NewStoreLedger(provider storage.Provider) (*StoreLedger, error) {
	store, err := provider.OpenStore(storeName)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	err = provider.SetStoreConfig(storeName, storage.StoreConfiguration{TagNames: []string{tagArtifactType}})
	if err != nil {
		return nil, fmt.Errorf("configure ledger store: %w", err)
	}

	return &StoreLedger{store: store}, nil
}

// PublishSchema stores the schema and assigns its identifier.
func (l *StoreLedger) PublishSchema(schema *anoncreds.Schema) (anoncreds.SchemaID, error) {
	if err := anoncreds.ValidateDID(schema.IssuerDID); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seqNo, err := l.nextSeq()
	if err != nil {
		return "", err
	}

	schema.ID = anoncreds.BuildSchemaID(schema.IssuerDID, seqNo, schema.Name, schema.Version)

	if err := l.putJSON(string(schema.ID), schema, typeSchema); err != nil {
		return "", err
	}

	logger.Debugf("published schema %s", schema.ID)

	return schema.ID, nil
}

// PublishCredDef stores the credential definition and assigns its identifier.
func (l *StoreLedger) PublishCredDef(credDef *anoncreds.CredentialDefinition) (anoncreds.CredDefID, error) {
	schemaParts, err := credDef.SchemaID.Parse()
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seqNo, err := l.nextSeq()
	if err != nil {
		return "", err
	}

	credDef.ID = anoncreds.BuildCredDefID(credDef.IssuerDID, seqNo, schemaParts.Name, schemaParts.Version)

	if err := l.putJSON(string(credDef.ID), credDef, typeCredDef); err != nil {
		return "", err
	}

	logger.Debugf("published credential definition %s", credDef.ID)

	return credDef.ID, nil
}

// PublishRevRegDef stores the registry definition, assigns its identifier and
// opens its (initially empty) entry sequence.
func (l *StoreLedger) PublishRevRegDef(regDef *anoncreds.RevocationRegistryDefinition) (anoncreds.RevRegID, error) {
	credDefParts, err := regDef.CredDefID.Parse()
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seqNo, err := l.nextSeq()
	if err != nil {
		return "", err
	}

	regDef.ID = anoncreds.BuildRevRegID(credDefParts.Authority, seqNo, credDefParts.Name, credDefParts.Version)

	if err := l.putJSON(string(regDef.ID), regDef, typeRevReg); err != nil {
		return "", err
	}

	if err := l.putEntries(regDef.ID, &entriesRecord{}); err != nil {
		return "", err
	}

	logger.Debugf("published revocation registry definition %s", regDef.ID)

	return regDef.ID, nil
}

// entriesRecord is the stored accumulator sequence of one registry.
type entriesRecord struct {
	PrunedBefore int64                                `json:"prunedBefore,omitempty"`
	Entries      []*anoncreds.RevocationRegistryEntry `json:"entries"`
}

// PublishRevRegEntry appends an entry to the registry's sequence.
func (l *StoreLedger) PublishRevRegEntry(entry *anoncreds.RevocationRegistryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.entries(entry.RevRegID)
	if err != nil {
		return err
	}

	if n := len(record.Entries); n > 0 && record.Entries[n-1].Timestamp > entry.Timestamp {
		return anoncreds.NewValidationError(
			"entry timestamp %d precedes the registry's latest entry", entry.Timestamp)
	}

	record.Entries = append(record.Entries, entry)

	return l.putEntries(entry.RevRegID, record)
}

// FetchSchema returns the schema published under the identifier.
func (l *StoreLedger) FetchSchema(id anoncreds.SchemaID) (*anoncreds.Schema, error) {
	schema := &anoncreds.Schema{}
	if err := l.getJSON(string(id), schema, "schema "+string(id)); err != nil {
		return nil, err
	}

	return schema, nil
}

// FetchCredDef returns the credential definition published under the identifier.
func (l *StoreLedger) FetchCredDef(id anoncreds.CredDefID) (*anoncreds.CredentialDefinition, error) {
	credDef := &anoncreds.CredentialDefinition{}
	if err := l.getJSON(string(id), credDef, "credential definition "+string(id)); err != nil {
		return nil, err
	}

	return credDef, nil
}

// FetchRevRegDef returns the registry definition published under the identifier.
func (l *StoreLedger) FetchRevRegDef(id anoncreds.RevRegID) (*anoncreds.RevocationRegistryDefinition, error) {
	regDef := &anoncreds.RevocationRegistryDefinition{}
	if err := l.getJSON(string(id), regDef, "revocation registry "+string(id)); err != nil {
		return nil, err
	}

	return regDef, nil
}

// FetchLatestEntry returns the registry's most recent entry.
func (l *StoreLedger) FetchLatestEntry(id anoncreds.RevRegID) (*anoncreds.RevocationRegistryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.entries(id)
	if err != nil {
		return nil, err
	}

	if len(record.Entries) == 0 {
		return nil, &anoncreds.NotFoundError{What: "entries for revocation registry " + string(id)}
	}

	return record.Entries[len(record.Entries)-1], nil
}

// FetchEntryAt returns the entry in force at the given timestamp.
func (l *StoreLedger) FetchEntryAt(id anoncreds.RevRegID, ts int64) (*anoncreds.RevocationRegistryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.entries(id)
	if err != nil {
		return nil, err
	}

	for i := len(record.Entries) - 1; i >= 0; i-- {
		if record.Entries[i].Timestamp <= ts {
			return record.Entries[i], nil
		}
	}

	return nil, &anoncreds.NotFoundError{
		What: fmt.Sprintf("entry of revocation registry %s at timestamp %d", id, ts),
	}
}

// FetchDelta returns the entries with from <= timestamp <= to, in order.
func (l *StoreLedger) FetchDelta(id anoncreds.RevRegID, from, to int64) ([]*anoncreds.RevocationRegistryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.entries(id)
	if err != nil {
		return nil, err
	}

	if from < record.PrunedBefore {
		return nil, &anoncreds.NotFoundError{
			What: fmt.Sprintf("entries of revocation registry %s before timestamp %d (pruned)", id, record.PrunedBefore),
		}
	}

	var delta []*anoncreds.RevocationRegistryEntry

	for _, entry := range record.Entries {
		if entry.Timestamp >= from && entry.Timestamp <= to {
			delta = append(delta, entry)
		}
	}

	return delta, nil
}

// Prune discards entries with timestamps strictly before the given bound.
func (l *StoreLedger) Prune(id anoncreds.RevRegID, before int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.entries(id)
	if err != nil {
		return err
	}

	kept := record.Entries[:0]

	for _, entry := range record.Entries {
		if entry.Timestamp >= before {
			kept = append(kept, entry)
		}
	}

	record.Entries = kept

	if before > record.PrunedBefore {
		record.PrunedBefore = before
	}

	return l.putEntries(id, record)
}

// ListSchemas returns all published schemas.
func (l *StoreLedger) ListSchemas() ([]*anoncreds.Schema, error) {
	var schemas []*anoncreds.Schema

	err := l.scan(typeSchema, func(value []byte) error {
		schema := &anoncreds.Schema{}
		if err := json.Unmarshal(value, schema); err != nil {
			return err
		}

		schemas = append(schemas, schema)

		return nil
	})

	return schemas, err
}

// ListCredDefs returns all published credential definitions.
func (l *StoreLedger) ListCredDefs() ([]*anoncreds.CredentialDefinition, error) {
	var credDefs []*anoncreds.CredentialDefinition

	err := l.scan(typeCredDef, func(value []byte) error {
		credDef := &anoncreds.CredentialDefinition{}
		if err := json.Unmarshal(value, credDef); err != nil {
			return err
		}

		credDefs = append(credDefs, credDef)

		return nil
	})

	return credDefs, err
}

// PublishIdentity stores a public identity record.
func (l *StoreLedger) PublishIdentity(identity *anoncreds.IdentityDetails) error {
	if err := anoncreds.ValidateDID(identity.DID); err != nil {
		return err
	}

	return l.putJSON(identityPrefix+identity.DID, identity, typeIdentity)
}

// FetchIdentity returns the identity record for the DID.
func (l *StoreLedger) FetchIdentity(did string) (*anoncreds.IdentityDetails, error) {
	identity := &anoncreds.IdentityDetails{}
	if err := l.getJSON(identityPrefix+did, identity, "identity "+did); err != nil {
		return nil, err
	}

	return identity, nil
}

// ListIdentities returns all known identity records.
func (l *StoreLedger) ListIdentities() ([]*anoncreds.IdentityDetails, error) {
	var identities []*anoncreds.IdentityDetails

	err := l.scan(typeIdentity, func(value []byte) error {
		identity := &anoncreds.IdentityDetails{}
		if err := json.Unmarshal(value, identity); err != nil {
			return err
		}

		identities = append(identities, identity)

		return nil
	})

	return identities, err
}

// nextSeq assigns the next global sequence number. Callers must hold l.mu.
func (l *StoreLedger) nextSeq() (int64, error) {
	var seqNo int64 = 1

	value, err := l.store.Get(seqKey)

	switch {
	case err == nil:
		seqNo, err = strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt ledger sequence record: %w", err)
		}

		seqNo++
	case errors.Is(err, storage.ErrDataNotFound):
	default:
		return 0, fmt.Errorf("read ledger sequence: %w", err)
	}

	if err := l.store.Put(seqKey, []byte(strconv.FormatInt(seqNo, 10))); err != nil {
		return 0, fmt.Errorf("advance ledger sequence: %w", err)
	}

	return seqNo, nil
}

func (l *StoreLedger) entries(id anoncreds.RevRegID) (*entriesRecord, error) {
	record := &entriesRecord{}
	if err := l.getJSON(string(id)+entriesSuffix, record, "revocation registry "+string(id)); err != nil {
		return nil, err
	}

	return record, nil
}

func (l *StoreLedger) putEntries(id anoncreds.RevRegID, record *entriesRecord) error {
	return l.putJSON(string(id)+entriesSuffix, record, typeRevReg)
}

func (l *StoreLedger) putJSON(key string, v interface{}, artifactType string) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", artifactType, err)
	}

	return l.store.Put(key, value, storage.Tag{Name: tagArtifactType, Value: artifactType})
}

// getJSON reads and unmarshals a record, retrying transient read failures.
// Missing data surfaces as a NotFoundError naming the artifact.
func (l *StoreLedger) getJSON(key string, v interface{}, what string) error {
	var value []byte

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = retryInterval

	err := backoff.Retry(func() error {
		var getErr error

		value, getErr = l.store.Get(key)
		if errors.Is(getErr, storage.ErrDataNotFound) {
			return backoff.Permanent(getErr)
		}

		return getErr
	}, backoff.WithMaxRetries(expo, maxReadRetries))

	if errors.Is(err, storage.ErrDataNotFound) {
		return &anoncreds.NotFoundError{What: what}
	}

	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}

	return json.Unmarshal(value, v)
}

func (l *StoreLedger) scan(artifactType string, visit func(value []byte) error) error {
	iterator, err := l.store.Query(tagArtifactType + ":" + artifactType)
	if err != nil {
		return fmt.Errorf("query %s records: %w", artifactType, err)
	}

	defer iterator.Close() // nolint:errcheck

	for {
		more, err := iterator.Next()
		if err != nil {
			return err
		}

		if !more {
			return nil
		}

		value, err := iterator.Value()
		if err != nil {
			return err
		}

		if err := visit(value); err != nil {
			return err
		}
	}
}
