// Package models defines the core domain entities: polls, states, and simulation results.
package models

import (
	"errors"
	"fmt"
)

const (
	MinPollWeight = 1
	MaxPollWeight = 10
)

var (
	ErrInvalidWeight         = errors.New("weight must be between 1 and 10")
	ErrInvalidElectoralVotes = errors.New("electoral votes must be positive")
	ErrEmptyStateName        = errors.New("state name must not be empty")
	ErrDuplicateState        = errors.New("duplicate state name")
)

// Poll is a single weighted poll result for one state.
// Support values are percentages for side A and side B.
type Poll struct {
	SupportA      float64 `json:"support_a"`
	SupportB      float64 `json:"support_b"`
	Weight        int     `json:"weight"`
	MarginOfError float64 `json:"moe"`
}

// NewPoll builds a Poll, rejecting weights outside [1,10].
func NewPoll(supportA, supportB float64, weight int, moe float64) (Poll, error) {
	p := Poll{
		SupportA:      supportA,
		SupportB:      supportB,
		Weight:        weight,
		MarginOfError: moe,
	}
	if err := p.Validate(); err != nil {
		return Poll{}, err
	}
	return p, nil
}

// Validate checks poll field constraints.
func (p Poll) Validate() error {
	if p.Weight < MinPollWeight || p.Weight > MaxPollWeight {
		return fmt.Errorf("%w: got %d", ErrInvalidWeight, p.Weight)
	}
	return nil
}

// PollRecord is a poll as delivered by an ingestion source, keyed by state name.
type PollRecord struct {
	StateName string `json:"state_name"`
	Poll
}

// RosterEntry is one row of the canonical state list.
type RosterEntry struct {
	Name           string `json:"name"`
	ElectoralVotes int    `json:"electoral_votes"`
}

// Validate checks roster entry constraints.
func (r RosterEntry) Validate() error {
	if r.Name == "" {
		return ErrEmptyStateName
	}
	if r.ElectoralVotes < 1 {
		return fmt.Errorf("%w: %s has %d", ErrInvalidElectoralVotes, r.Name, r.ElectoralVotes)
	}
	return nil
}
