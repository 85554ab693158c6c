package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Player is a registered score submitter.
type Player struct {
	ID         int64     `json:"id"`
	APIKey     string    `json:"-"`
	MachineTag string    `json:"machine_tag"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName returns the player's name when set, falling back to the
// machine tag.
func (p *Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.MachineTag
}

// DeriveAPIKey maps a wire API key to the stored credential. Only the first
// 32 characters of the wire key are significant; the raw key is never
// persisted.
func DeriveAPIKey(wireKey string) string {
	if len(wireKey) > 32 {
		wireKey = wireKey[:32]
	}
	sum := sha256.Sum256([]byte(wireKey))
	return hex.EncodeToString(sum[:])
}

// ValidatePlayer checks registration fields before persisting.
func ValidatePlayer(machineTag, name string) error {
	if machineTag == "" {
		return fmt.Errorf("%w: machine tag is required", ErrValidation)
	}
	if len(machineTag) > MaxMachineTagLength {
		return fmt.Errorf("%w: machine tag exceeds %d characters", ErrValidation, MaxMachineTagLength)
	}
	if len(name) > MaxPlayerNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, MaxPlayerNameLength)
	}
	return nil
}
