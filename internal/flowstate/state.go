// Package flowstate persists where each caller is in the booking dialogue.
package flowstate

import (
	"context"
	"fmt"
	"time"
)

// Step is a position in the booking dialogue.
type Step string

const (
	StepIdle              Step = "idle"
	StepServiceSelection  Step = "service_selection"
	StepDateTimeSelection Step = "date_time_selection"
	StepConfirmation      Step = "confirmation"
	StepCompleted         Step = "completed"
)

var stepOrder = map[Step]int{
	StepIdle:              0,
	StepServiceSelection:  1,
	StepDateTimeSelection: 2,
	StepConfirmation:      3,
	StepCompleted:         4,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// CanTransition allows staying on a step, moving exactly one step forward,
// and returning to idle from anywhere.
func CanTransition(from, to Step) bool {
	fi, ok := stepOrder[from]
	if !ok {
		return false
	}
	ti, ok := stepOrder[to]
	if !ok {
		return false
	}
	if to == StepIdle || from == to {
		return true
	}
	return ti == fi+1
}

// SlotChoice is an offered or chosen appointment slot.
type SlotChoice struct {
	Start      time.Time `json:"start" dynamodbav:"start"`
	End        time.Time `json:"end" dynamodbav:"end"`
	CalendarID string    `json:"calendar_id" dynamodbav:"calendarId"`
}

// Data accumulates the caller's selections.
type Data struct {
	ServiceID      string       `json:"service_id,omitempty" dynamodbav:"serviceId,omitempty"`
	ServiceName    string       `json:"service_name,omitempty" dynamodbav:"serviceName,omitempty"`
	ServiceMinutes int          `json:"service_minutes,omitempty" dynamodbav:"serviceMinutes,omitempty"`
	ProfessionalID string       `json:"professional_id,omitempty" dynamodbav:"professionalId,omitempty"`
	OfferedSlots   []SlotChoice `json:"offered_slots,omitempty" dynamodbav:"offeredSlots,omitempty"`
	Slot           *SlotChoice  `json:"slot,omitempty" dynamodbav:"slot,omitempty"`
	Notes          string       `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
}

// State is the full record for one (clinic, caller) pair. Set always
// overwrites the whole value.
type State struct {
	ClinicID  string    `json:"clinic_id"`
	Phone     string    `json:"phone"`
	Step      Step      `json:"step"`
	Data      Data      `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Data.OfferedSlots != nil {
		out.Data.OfferedSlots = append([]SlotChoice(nil), s.Data.OfferedSlots...)
	}
	if s.Data.Slot != nil {
		slot := *s.Data.Slot
		out.Data.Slot = &slot
	}
	return &out
}

// Key identifies one dialogue.
type Key struct {
	ClinicID string
	Phone    string
}

func (k Key) String() string {
	return fmt.Sprintf("flow:%s:%s", k.ClinicID, k.Phone)
}

func (k Key) validate() error {
	if k.ClinicID == "" || k.Phone == "" {
		return fmt.Errorf("flowstate: key requires clinic and phone, got %q/%q", k.ClinicID, k.Phone)
	}
	return nil
}

// validateWrite checks a Set call; every backend rejects a nil state.
func validateWrite(key Key, state *State) error {
	if err := key.validate(); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("flowstate: nil state for %s", key)
	}
	return nil
}

// Store is the flow state contract. Get returns nil, nil for an absent key.
// Concurrent Sets on the same key are last-write-wins.
type Store interface {
	Get(ctx context.Context, key Key) (*State, error)
	Set(ctx context.Context, key Key, state *State) error
	Clear(ctx context.Context, key Key) error
}
