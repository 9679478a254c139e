package model

import (
	"fmt"
	"time"
)

// ModuleDescriptor is a registered analyzer capability. It is written by the
// admin surface and read by the scheduler and validator.
type ModuleDescriptor struct {
	ID             string      `json:"id" yaml:"id"`
	Version        int         `json:"version" yaml:"version"`
	InputKinds     []string    `json:"input_kinds" yaml:"input_kinds"`
	OutputKinds    []string    `json:"output_kinds" yaml:"output_kinds"`
	Granularity    Granularity `json:"granularity" yaml:"granularity"`
	PartitionByKey bool        `json:"partition_by_key" yaml:"partition_by_key"`
	Enabled        bool        `json:"enabled" yaml:"enabled"`

	// Command is the argv the execution substrate runs for this module.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Checks maps an output kind to a JavaScript predicate over `value`.
	Checks map[string]string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// MaxAttempts overrides the scheduler default when > 0.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the descriptor for required fields.
func (m *ModuleDescriptor) Validate() []FieldError {
	var errs []FieldError
	if m.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "id is required"})
	}
	if m.Version < 1 {
		errs = append(errs, FieldError{Field: "version", Message: "version must be >= 1"})
	}
	if len(m.InputKinds) == 0 {
		errs = append(errs, FieldError{Field: "input_kinds", Message: "at least one input kind is required"})
	}
	if len(m.OutputKinds) == 0 {
		errs = append(errs, FieldError{Field: "output_kinds", Message: "at least one output kind is required"})
	}
	if !m.Granularity.Valid() {
		errs = append(errs, FieldError{Field: "granularity", Message: fmt.Sprintf("unknown granularity %q", m.Granularity)})
	}
	for kind := range m.Checks {
		if !m.Produces(kind) {
			errs = append(errs, FieldError{Field: "checks", Message: fmt.Sprintf("check for undeclared output kind %q", kind)})
		}
	}
	return errs
}

// Produces reports whether kind is one of the module's declared output kinds.
func (m *ModuleDescriptor) Produces(kind string) bool {
	for _, k := range m.OutputKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SharesOutputWith reports whether two modules write any common output kind.
func (m *ModuleDescriptor) SharesOutputWith(o *ModuleDescriptor) bool {
	for _, k := range m.OutputKinds {
		if o.Produces(k) {
			return true
		}
	}
	return false
}

// SameShape reports whether o slices input exactly like m. Changing the
// shape requires a version bump, otherwise active slices could overlap.
func (m *ModuleDescriptor) SameShape(o *ModuleDescriptor) bool {
	return m.Granularity == o.Granularity && m.PartitionByKey == o.PartitionByKey
}
