package types

import (
	"fmt"
	"time"
)

// LoadPriority classifies a switchable load. Critical loads are never
// shed. The shed order (accessory first, then comfort) is enforced by
// ShedRank, not by string comparison.
type LoadPriority string

const (
	LoadPriorityCritical  LoadPriority = "critical"
	LoadPriorityComfort   LoadPriority = "comfort"
	LoadPriorityAccessory LoadPriority = "accessory"
)

// Valid reports whether the priority is one of the closed set.
func (p LoadPriority) Valid() bool {
	switch p {
	case LoadPriorityCritical, LoadPriorityComfort, LoadPriorityAccessory:
		return true
	}
	return false
}

// ShedRank returns the total order used when picking shed candidates:
// lower rank sheds first. Critical ranks last and is excluded from
// shedding before ordering ever matters.
func (p LoadPriority) ShedRank() int {
	switch p {
	case LoadPriorityAccessory:
		return 0
	case LoadPriorityComfort:
		return 1
	default:
		return 2
	}
}

// LoadDevice describes one switchable load under management.
type LoadDevice struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	Entity        string       `json:"entity"`
	Priority      LoadPriority `json:"priority"`
	PowerWatts    float64      `json:"powerWatts"`
	CanShed       bool         `json:"canShed"`
	MinOffMinutes int          `json:"minOffMinutes"`
}

// Validate checks a device definition at config load time.
func (d LoadDevice) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: load device missing id", ErrConfigInvalid)
	}
	if d.Entity == "" {
		return fmt.Errorf("%w: load device %s missing entity", ErrConfigInvalid, d.ID)
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("%w: load device %s has unknown priority %q", ErrConfigInvalid, d.ID, d.Priority)
	}
	if d.PowerWatts < 0 {
		return fmt.Errorf("%w: load device %s has negative power", ErrConfigInvalid, d.ID)
	}
	if d.MinOffMinutes < 0 {
		return fmt.Errorf("%w: load device %s has negative min-off minutes", ErrConfigInvalid, d.ID)
	}
	return nil
}

// LoadState is the persisted shed lifecycle for one device. It is created
// implicitly on first shed and cleared on restore.
type LoadState struct {
	DeviceID   string    `json:"deviceID"`
	IsShed     bool      `json:"isShed"`
	ShedSince  time.Time `json:"shedSince,omitempty"`
	ShedReason string    `json:"shedReason,omitempty"`
}

// ShedDuration returns how long the device has been shed as of now.
func (s LoadState) ShedDuration(now time.Time) time.Duration {
	if !s.IsShed || s.ShedSince.IsZero() {
		return 0
	}
	return now.Sub(s.ShedSince)
}
