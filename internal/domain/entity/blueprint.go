package entity

import (
	"regexp"
	"time"
)

var blueprintNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Blueprint is the declarative description of an agent role within an
// agency: a prompt, the capability patterns it resolves against the tool
// and plugin registries, an optional model override, and default vars.
//
// A blueprint is immutable once created from the caller's point of view;
// re-creation with the same name merges over the prior record, preserving
// createdAt (see Agency.UpsertBlueprint).
type Blueprint struct {
	name         string
	prompt       string
	capabilities []string
	model        string
	vars         map[string]any
	createdAt    time.Time
	updatedAt    time.Time
}

// NewBlueprint validates and constructs a new Blueprint.
func NewBlueprint(name, prompt string, capabilities []string, model string, vars map[string]any) (*Blueprint, error) {
	if name == "" || !blueprintNamePattern.MatchString(name) {
		return nil, ErrInvalidBlueprintName
	}
	if vars == nil {
		vars = map[string]any{}
	}
	now := time.Now().UTC()
	return &Blueprint{
		name:         name,
		prompt:       prompt,
		capabilities: append([]string(nil), capabilities...),
		model:        model,
		vars:         vars,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// ReconstructBlueprint rebuilds a Blueprint from persisted fields, bypassing
// validation (the record was already validated when first written).
func ReconstructBlueprint(name, prompt string, capabilities []string, model string, vars map[string]any, createdAt, updatedAt time.Time) *Blueprint {
	return &Blueprint{
		name:         name,
		prompt:       prompt,
		capabilities: capabilities,
		model:        model,
		vars:         vars,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

func (b *Blueprint) Name() string            { return b.name }
func (b *Blueprint) Prompt() string          { return b.prompt }
func (b *Blueprint) Capabilities() []string   { return append([]string(nil), b.capabilities...) }
func (b *Blueprint) Model() string            { return b.model }
func (b *Blueprint) Vars() map[string]any     { return b.vars }
func (b *Blueprint) CreatedAt() time.Time     { return b.createdAt }
func (b *Blueprint) UpdatedAt() time.Time     { return b.updatedAt }

// MergeOver replaces every field from next except createdAt, which is kept
// from the receiver. Used by Agency.UpsertBlueprint's create-or-upsert rule.
func (b *Blueprint) MergeOver(next *Blueprint) *Blueprint {
	merged := *next
	merged.createdAt = b.createdAt
	merged.updatedAt = time.Now().UTC()
	return &merged
}
