// Package dkg orchestrates the distributed key generation ceremony among
// registered keypers and stores the finalized threshold keys per epoch.
//
// The ceremony is a single-instance state machine: Inactive → Registration
// → Dealing, with finalization producing an epoch key and dropping back to
// Inactive. The actual key-share mathematics happen off-chain in the keyper
// network; this machine records who registered, which dealing hashes were
// received, and whether quorum was reached.
//
// Per-participant flags are scoped to one ceremony through a generation
// counter: every slot carries the ceremony ID it was written under, and a
// slot from an earlier ceremony is treated as absent. Starting or aborting
// a ceremony bumps the ID, so resetting scratch state is an O(1) swap and a
// flag can never leak into the next ceremony.
package dkg

import (
	"errors"
	"sync"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
	"github.com/cipherseq/cipherseq/keyper"
	"github.com/cipherseq/cipherseq/log"
)

// Ceremony errors.
var (
	ErrNotAuthorized         = errors.New("dkg: caller not authorized")
	ErrWrongPhase            = errors.New("dkg: operation not allowed in current phase")
	ErrDeadlinePassed        = errors.New("dkg: phase deadline passed")
	ErrInsufficientKeypers   = errors.New("dkg: not enough active keypers")
	ErrNotActiveKeyper       = errors.New("dkg: caller is not an active keyper")
	ErrDuplicateRegistration = errors.New("dkg: already registered for this ceremony")
	ErrNotRegistered         = errors.New("dkg: not registered for this ceremony")
	ErrDuplicateDealing      = errors.New("dkg: dealing already submitted")
	ErrEmptyDealing          = errors.New("dkg: empty dealing hash")
	ErrInsufficientDealings  = errors.New("dkg: dealings below threshold")
	ErrMalformedKey          = errors.New("dkg: malformed aggregated key")
)

// Phase is the ceremony state machine phase.
type Phase uint8

const (
	// PhaseInactive means no ceremony is running.
	PhaseInactive Phase = iota
	// PhaseRegistration means keypers may register for the ceremony.
	PhaseRegistration
	// PhaseDealing means registered participants may submit dealing hashes.
	PhaseDealing
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseRegistration:
		return "registration"
	case PhaseDealing:
		return "dealing"
	default:
		return "unknown"
	}
}

// CeremonyConfig configures the ceremony state machine.
type CeremonyConfig struct {
	// Threshold is the number of participants required both to advance to
	// the dealing phase and to finalize (t of the t-of-n scheme).
	Threshold int

	// RegistrationWindow is how many heights the registration phase stays
	// open after the ceremony starts.
	RegistrationWindow uint64

	// DealingWindow is how many heights the dealing phase stays open after
	// registration completes.
	DealingWindow uint64
}

// DefaultCeremonyConfig returns small-committee defaults.
func DefaultCeremonyConfig() CeremonyConfig {
	return CeremonyConfig{
		Threshold:          2,
		RegistrationWindow: 100,
		DealingWindow:      100,
	}
}

// participantSlot is one keyper's scratch state. The ceremony field is the
// generation the slot was written under; a mismatch means the slot belongs
// to a dead ceremony and must be ignored.
type participantSlot struct {
	ceremony   uint64
	registered bool
	dealt      bool
}

// Ceremony is the single-instance DKG state machine. Thread-safe.
type Ceremony struct {
	mu sync.Mutex

	config   CeremonyConfig
	registry *keyper.Registry
	store    *KeyStore
	admin    types.Address

	// id is the generation counter. Bumped on every start, abort, and
	// finalization, invalidating all slots of the previous ceremony.
	id uint64

	phase        Phase
	targetEpoch  uint64
	deadline     uint64
	participants []types.Address
	dealings     int

	slots map[types.Address]*participantSlot

	logger *log.Logger
}

// NewCeremony creates the ceremony state machine in the Inactive phase.
func NewCeremony(config CeremonyConfig, registry *keyper.Registry, store *KeyStore, admin types.Address, logger *log.Logger) *Ceremony {
	if logger == nil {
		logger = log.Default()
	}
	return &Ceremony{
		config:   config,
		registry: registry,
		store:    store,
		admin:    admin,
		slots:    make(map[types.Address]*participantSlot),
		logger:   logger.Module("dkg"),
	}
}

// slot returns the caller's scratch slot for the current ceremony, nil if
// the keyper has no state in this generation.
func (c *Ceremony) slot(addr types.Address) *participantSlot {
	s, ok := c.slots[addr]
	if !ok || s.ceremony != c.id {
		return nil
	}
	return s
}

// reset drops back to Inactive and invalidates all scratch state by
// bumping the generation counter. No map clearing is needed.
func (c *Ceremony) reset() {
	c.id++
	c.phase = PhaseInactive
	c.targetEpoch = 0
	c.deadline = 0
	c.participants = nil
	c.dealings = 0
}

// StartCeremony begins a new ceremony for targetEpoch. Administrator only;
// requires the Inactive phase, at least Threshold active keypers, and no
// existing key for the target epoch.
func (c *Ceremony) StartCeremony(caller types.Address, targetEpoch, height uint64) error {
	if caller != c.admin {
		return ErrNotAuthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseInactive {
		return ErrWrongPhase
	}
	if c.registry.ActiveCount() < c.config.Threshold {
		return ErrInsufficientKeypers
	}
	if c.store.Exists(targetEpoch) {
		return ErrKeyExists
	}

	// New generation before any phase data is written.
	c.id++
	c.phase = PhaseRegistration
	c.targetEpoch = targetEpoch
	c.deadline = height + c.config.RegistrationWindow
	c.participants = nil
	c.dealings = 0

	c.logger.Info("ceremony started",
		"ceremony", c.id, "epoch", targetEpoch, "deadline", c.deadline)
	return nil
}

// RegisterForCeremony registers the caller as a participant. Fails outside
// the registration phase, after the deadline, for inactive keypers, and on
// duplicate registration. Reaching Threshold participants advances the
// ceremony to the dealing phase.
func (c *Ceremony) RegisterForCeremony(caller types.Address, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRegistration {
		return ErrWrongPhase
	}
	if height > c.deadline {
		return ErrDeadlinePassed
	}
	if !c.registry.IsActive(caller) {
		return ErrNotActiveKeyper
	}
	if s := c.slot(caller); s != nil && s.registered {
		// A repeat registration is a hard failure so orchestration bugs
		// surface instead of silently double-counting toward quorum.
		return ErrDuplicateRegistration
	}

	c.slots[caller] = &participantSlot{ceremony: c.id, registered: true}
	c.participants = append(c.participants, caller)

	if len(c.participants) >= c.config.Threshold {
		c.phase = PhaseDealing
		c.deadline = height + c.config.DealingWindow
		c.logger.Info("ceremony advanced to dealing",
			"ceremony", c.id, "participants", len(c.participants), "deadline", c.deadline)
	}
	return nil
}

// SubmitDealing records the hash of the caller's dealing. Fails outside the
// dealing phase, after the deadline, for non-participants, and on duplicate
// submission.
func (c *Ceremony) SubmitDealing(caller types.Address, dealingHash types.Hash, height uint64) error {
	if dealingHash.IsZero() {
		return ErrEmptyDealing
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseDealing {
		return ErrWrongPhase
	}
	if height > c.deadline {
		return ErrDeadlinePassed
	}
	s := c.slot(caller)
	if s == nil || !s.registered {
		return ErrNotRegistered
	}
	if s.dealt {
		return ErrDuplicateDealing
	}

	s.dealt = true
	c.dealings++

	c.logger.Info("dealing received",
		"ceremony", c.id, "keyper", caller.Hex(), "dealings", c.dealings)
	return nil
}

// FinalizeCeremony records the aggregated threshold key produced off-chain
// and stores it as the target epoch's key. Administrator only; requires the
// dealing phase, at least Threshold accepted dealings, and well-formed key
// material. On success the ceremony resets to Inactive.
func (c *Ceremony) FinalizeCeremony(caller types.Address, aggregatedKey []byte, shareCommitment types.Hash, height uint64) (EpochKey, error) {
	if caller != c.admin {
		return EpochKey{}, ErrNotAuthorized
	}
	if err := crypto.ValidateBLSPubKey(aggregatedKey); err != nil {
		return EpochKey{}, ErrMalformedKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseDealing {
		return EpochKey{}, ErrWrongPhase
	}
	if c.dealings < c.config.Threshold {
		return EpochKey{}, ErrInsufficientDealings
	}

	key := EpochKey{
		Epoch:            c.targetEpoch,
		AggregatedKey:    types.BytesToBLSPubKey(aggregatedKey),
		ShareCommitment:  shareCommitment,
		Threshold:        c.config.Threshold,
		KeyperCount:      len(c.participants),
		ActivationHeight: height,
		ExpiryHeight:     height + c.store.ValidityWindow(),
	}
	if err := c.store.Put(&key); err != nil {
		return EpochKey{}, err
	}

	c.logger.Info("ceremony finalized",
		"ceremony", c.id, "epoch", c.targetEpoch, "keypers", key.KeyperCount)
	c.reset()
	return key, nil
}

// AbortCeremony tears down the running ceremony without producing a key.
// Administrator only; the escape hatch for a ceremony stalled past its
// deadline without quorum.
func (c *Ceremony) AbortCeremony(caller types.Address, reason string) error {
	if caller != c.admin {
		return ErrNotAuthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseInactive {
		return ErrWrongPhase
	}

	c.logger.Warn("ceremony aborted",
		"ceremony", c.id, "phase", c.phase.String(), "reason", reason)
	c.reset()
	return nil
}

// Phase returns the current ceremony phase.
func (c *Ceremony) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Deadline returns the current phase deadline height, zero when inactive.
func (c *Ceremony) Deadline() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// TargetEpoch returns the epoch the running ceremony is generating a key
// for, zero when inactive.
func (c *Ceremony) TargetEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetEpoch
}

// Participants returns the ordered list of keypers registered for the
// current ceremony.
func (c *Ceremony) Participants() []types.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Address, len(c.participants))
	copy(out, c.participants)
	return out
}

// HasRegistered reports whether addr registered for the current ceremony.
// Flags from earlier ceremonies are never visible here.
func (c *Ceremony) HasRegistered(addr types.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slot(addr)
	return s != nil && s.registered
}

// DealingsReceived returns the number of dealings accepted so far in the
// current ceremony.
func (c *Ceremony) DealingsReceived() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dealings
}
