package model

import (
	"encoding/json"
	"time"
)

// Result is the output of one WorkItem execution. The payload is immutable;
// only the validator changes Status.
type Result struct {
	ID            string          `json:"id"`
	WorkItemID    string          `json:"work_item_id"`
	ModuleID      string          `json:"module_id"`
	ModuleVersion int             `json:"module_version"`
	Slice         DataSlice       `json:"slice"`
	InputSeq      int64           `json:"input_seq"`
	ProducedBy    string          `json:"produced_by"`
	ProducedAt    time.Time       `json:"produced_at"`
	Payload       json.RawMessage `json:"payload"`
	Status        ResultStatus    `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	SupersededBy  string          `json:"superseded_by,omitempty"`
	ValidatedAt   *time.Time      `json:"validated_at,omitempty"`
	ValidatedRev  int64           `json:"validated_rev,omitempty"`
}

// Observation is one measurement-derived fact inside a Result payload.
// Either Time or both Start and End are set.
type Observation struct {
	Kind  string     `json:"kind"`
	Key   string     `json:"key,omitempty"`
	Time  *time.Time `json:"time,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Value any        `json:"value"`
}

// Conflict records a pair of overlapping results the validator could not
// reconcile automatically. The rejected result is retained for audit.
type Conflict struct {
	ID             string    `json:"id"`
	KeptID         string    `json:"kept_id"`
	RejectedID     string    `json:"rejected_id"`
	KeptModule     string    `json:"kept_module"`
	RejectedModule string    `json:"rejected_module"`
	Slice          DataSlice `json:"slice"`
	Reason         string    `json:"reason"`
	DetectedAt     time.Time `json:"detected_at"`
	Acknowledged   bool      `json:"acknowledged"`
}
