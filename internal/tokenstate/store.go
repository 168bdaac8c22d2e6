package tokenstate

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes, following internal/token/store.go's "t/"-style scheme.
var (
	prefixIssuance    = []byte("ti/") // ti/<tokenID(32)> -> Issuance JSON
	prefixRestriction = []byte("tr/") // tr/<tokenID(32)> -> Restriction JSON
)

// Store persists issuance and restriction records to a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a token-state store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func issuanceKey(id types.TokenID) []byte {
	key := make([]byte, len(prefixIssuance)+types.HashSize)
	copy(key, prefixIssuance)
	copy(key[len(prefixIssuance):], id[:])
	return key
}

func restrictionKey(id types.TokenID) []byte {
	key := make([]byte, len(prefixRestriction)+types.HashSize)
	copy(key, prefixRestriction)
	copy(key[len(prefixRestriction):], id[:])
	return key
}

// GetIssuance retrieves the issuance record for a token, or an error if absent.
func (s *Store) GetIssuance(id types.TokenID) (*Issuance, error) {
	data, err := s.db.Get(issuanceKey(id))
	if err != nil {
		return nil, fmt.Errorf("tokenstate issuance get: %w", err)
	}
	var rec Issuance
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tokenstate issuance unmarshal: %w", err)
	}
	return &rec, nil
}

// PutIssuance stores an issuance record.
func (s *Store) PutIssuance(id types.TokenID, rec *Issuance) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstate issuance marshal: %w", err)
	}
	return s.db.Put(issuanceKey(id), data)
}

// HasIssuance reports whether an issuance record exists for id.
func (s *Store) HasIssuance(id types.TokenID) (bool, error) {
	return s.db.Has(issuanceKey(id))
}

// DeleteIssuance removes an issuance record (used when disconnecting the
// block that minted it).
func (s *Store) DeleteIssuance(id types.TokenID) error {
	return s.db.Delete(issuanceKey(id))
}

// GetRestriction retrieves the restriction record for a token. Returns a
// zero-value Restriction (not an error) if none has ever been set.
func (s *Store) GetRestriction(id types.TokenID) (*Restriction, error) {
	data, err := s.db.Get(restrictionKey(id))
	if err != nil {
		return &Restriction{TokenID: id}, nil
	}
	var rec Restriction
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tokenstate restriction unmarshal: %w", err)
	}
	return &rec, nil
}

// PutRestriction stores a restriction record.
func (s *Store) PutRestriction(id types.TokenID, rec *Restriction) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstate restriction marshal: %w", err)
	}
	return s.db.Put(restrictionKey(id), data)
}

// DeleteRestriction removes a restriction record entirely (used when
// undoing the first governance op ever applied to a token).
func (s *Store) DeleteRestriction(id types.TokenID) error {
	return s.db.Delete(restrictionKey(id))
}

// ClearAll removes every issuance and restriction record, mirroring
// internal/utxo.Store.ClearAll. Used when a full chain replay rebuilds
// state from genesis and stale restriction/issuance records would
// otherwise survive the rebuild.
func (s *Store) ClearAll() error {
	var keys [][]byte
	for _, prefix := range [][]byte{prefixIssuance, prefixRestriction} {
		if err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		}); err != nil {
			return fmt.Errorf("tokenstate clear: scan prefix %s: %w", prefix, err)
		}
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("tokenstate clear: delete key: %w", err)
		}
	}
	return nil
}
