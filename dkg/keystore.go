// Epoch key storage.
//
// Each successful ceremony produces one epoch key: the aggregated threshold
// public key users encrypt against, a commitment to the underlying key
// shares, the t-of-n parameters, and a validity window. Records are
// immutable once stored except for the revoked flag, and revocation is
// irreversible. Expiry is a fixed window from the activation height; the
// only way to a fresh key is a new ceremony.
package dkg

import (
	"errors"
	"sync"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/log"
)

// Key store errors.
var (
	ErrKeyExists     = errors.New("dkg: epoch key already exists")
	ErrNoCurrentKey  = errors.New("dkg: no current epoch key")
	ErrKeyRevoked    = errors.New("dkg: epoch key revoked")
	ErrKeyExpired    = errors.New("dkg: epoch key expired")
	ErrUnknownEpoch  = errors.New("dkg: unknown epoch")
	ErrAlreadyRevoked = errors.New("dkg: epoch key already revoked")
)

// EpochKey is the finalized output of one ceremony.
type EpochKey struct {
	Epoch            uint64
	AggregatedKey    types.BLSPubKey
	ShareCommitment  types.Hash
	Threshold        int
	KeyperCount      int
	ActivationHeight uint64
	ExpiryHeight     uint64
	Revoked          bool
}

// KeyStoreConfig configures epoch key validity.
type KeyStoreConfig struct {
	// KeyValidityWindow is the number of ledger heights an epoch key stays
	// valid after its activation height.
	KeyValidityWindow uint64
}

// DefaultKeyStoreConfig returns a generous validity window for tests.
func DefaultKeyStoreConfig() KeyStoreConfig {
	return KeyStoreConfig{KeyValidityWindow: 100_000}
}

// KeyStore holds the finalized threshold public key per epoch. Thread-safe.
type KeyStore struct {
	mu sync.RWMutex

	config KeyStoreConfig
	admin  types.Address

	keys        map[uint64]*EpochKey
	latestEpoch uint64
	hasLatest   bool

	logger *log.Logger
}

// NewKeyStore creates an empty key store administered by admin.
func NewKeyStore(config KeyStoreConfig, admin types.Address, logger *log.Logger) *KeyStore {
	if logger == nil {
		logger = log.Default()
	}
	return &KeyStore{
		config: config,
		admin:  admin,
		keys:   make(map[uint64]*EpochKey),
		logger: logger.Module("dkg"),
	}
}

// Put stores a finalized epoch key. Only the ceremony finalization path
// calls this; a duplicate epoch is a hard failure, never an overwrite.
func (s *KeyStore) Put(key *EpochKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.Epoch]; exists {
		return ErrKeyExists
	}

	cp := *key
	s.keys[key.Epoch] = &cp
	if !s.hasLatest || key.Epoch > s.latestEpoch {
		s.latestEpoch = key.Epoch
		s.hasLatest = true
	}

	s.logger.Info("epoch key stored",
		"epoch", key.Epoch, "threshold", key.Threshold,
		"keypers", key.KeyperCount, "expires", key.ExpiryHeight)
	return nil
}

// CurrentKey returns the latest epoch's key, or an error if none exists or
// the latest key is revoked or expired at height.
func (s *KeyStore) CurrentKey(height uint64) (EpochKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasLatest {
		return EpochKey{}, ErrNoCurrentKey
	}
	key := s.keys[s.latestEpoch]
	if key.Revoked {
		return EpochKey{}, ErrKeyRevoked
	}
	if height > key.ExpiryHeight {
		return EpochKey{}, ErrKeyExpired
	}
	return *key, nil
}

// KeyForEpoch returns the stored record for epoch, or the zero value if
// absent. Historical lookups never fail.
func (s *KeyStore) KeyForEpoch(epoch uint64) EpochKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[epoch]; ok {
		return *key
	}
	return EpochKey{}
}

// Exists reports whether a key has been stored for epoch.
func (s *KeyStore) Exists(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[epoch]
	return ok
}

// IsValid reports whether epoch's key exists, is not revoked, and has not
// expired at height.
func (s *KeyStore) IsValid(epoch, height uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[epoch]
	return ok && !key.Revoked && height <= key.ExpiryHeight
}

// Revoke marks epoch's key revoked. Administrator only, irreversible.
func (s *KeyStore) Revoke(caller types.Address, epoch uint64, reason string) error {
	if caller != s.admin {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[epoch]
	if !ok {
		return ErrUnknownEpoch
	}
	if key.Revoked {
		return ErrAlreadyRevoked
	}
	key.Revoked = true

	s.logger.Warn("epoch key revoked", "epoch", epoch, "reason", reason)
	return nil
}

// ValidityWindow returns the configured key validity window.
func (s *KeyStore) ValidityWindow() uint64 {
	return s.config.KeyValidityWindow
}
