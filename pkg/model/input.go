package model

import "time"

// InputRecord is an immutable unit of raw measurement data appended by the
// ingestion collaborator. Seq is assigned by the store on first append.
type InputRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Key        string    `json:"key,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	PayloadRef string    `json:"payload_ref,omitempty"`
	Seq        int64     `json:"seq"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Validate checks the record for required fields. A zero End is taken to
// mean an instantaneous record and is set to Start.
func (r *InputRecord) Validate() []FieldError {
	var errs []FieldError
	if r.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "id is required"})
	}
	if r.Kind == "" {
		errs = append(errs, FieldError{Field: "kind", Message: "kind is required"})
	}
	if r.Start.IsZero() {
		errs = append(errs, FieldError{Field: "start", Message: "start is required"})
	}
	if r.End.IsZero() {
		r.End = r.Start
	}
	if r.End.Before(r.Start) {
		errs = append(errs, FieldError{Field: "end", Message: "end must not be before start"})
	}
	return errs
}
