package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/me/obscore/pkg/model"
)

// PayloadError describes one observation that failed validation. Index is
// -1 when the payload as a whole is malformed.
type PayloadError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e PayloadError) String() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("#%d: %s", e.Index, e.Reason)
}

// CheckPayload validates every observation of r against module m. It stops
// once more than maxErrors observations failed and returns the number of
// valid observations seen.
func CheckPayload(r *model.Result, m *model.ModuleDescriptor, checker *Checker, maxErrors int) (int, []PayloadError) {
	var observations []model.Observation
	if err := json.Unmarshal(r.Payload, &observations); err != nil {
		return 0, []PayloadError{{Index: -1, Reason: "payload is not an array of observations: " + err.Error()}}
	}

	var errs []PayloadError
	valid := 0
	for i := range observations {
		if reason := checkObservation(&observations[i], r.Slice, m, checker); reason != "" {
			errs = append(errs, PayloadError{Index: i, Reason: reason})
			if len(errs) > maxErrors {
				break
			}
			continue
		}
		valid++
	}
	return valid, errs
}

func checkObservation(obs *model.Observation, slice model.DataSlice, m *model.ModuleDescriptor, checker *Checker) string {
	if !m.Produces(obs.Kind) {
		return fmt.Sprintf("kind %q not declared", obs.Kind)
	}

	switch {
	case obs.Time != nil:
		if !slice.Contains(*obs.Time) {
			return "time outside slice"
		}
	case obs.Start != nil && obs.End != nil:
		if obs.Start.Before(slice.Start) || obs.End.Before(*obs.Start) || obs.End.After(slice.End) {
			return "interval outside slice"
		}
	default:
		return "missing time"
	}

	if slice.Key != "" && obs.Key != "" && obs.Key != slice.Key {
		return fmt.Sprintf("key %q outside slice", obs.Key)
	}

	ok, err := checker.Check(obs.Kind, obs.Value)
	if err != nil {
		return "value check failed: " + err.Error()
	}
	if !ok {
		return "value"
	}
	return ""
}

// summarize renders the first few payload errors for a rejection reason.
func summarize(errs []PayloadError) string {
	const shown = 3
	parts := make([]string, 0, shown)
	for i, e := range errs {
		if i == shown {
			break
		}
		parts = append(parts, e.String())
	}
	s := fmt.Sprintf("%d invalid observation(s): %s", len(errs), strings.Join(parts, "; "))
	if len(errs) > shown {
		s += "; ..."
	}
	return s
}
