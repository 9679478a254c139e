package validator

import (
	"fmt"

	"github.com/me/obscore/pkg/model"
)

// Decision is the outcome of resolving a candidate against the canonical set.
type Decision struct {
	Promote bool

	// Supersede lists canonical results retired when the candidate is promoted.
	Supersede []*model.Result

	// Reason explains a rejection.
	Reason string

	// Conflicts lists canonical results the candidate contradicts. Set only
	// when the rejection comes from a cross-module overlap.
	Conflicts []*model.Result
}

// Resolve decides the fate of candidate given the VALIDATED results whose
// slices overlap it. modules maps module IDs to their current descriptors and
// is used to compare output kinds across modules. Resolve has no side effects.
//
// Against a result of the same module, a newer module version or a newer
// input revision supersedes it, while an older version, an older revision or
// an equal revision is rejected. Results of different modules are independent
// when their output kinds are disjoint; otherwise the earlier canonical
// result wins and the candidate is rejected as a conflict.
func Resolve(candidate *model.Result, canonical []*model.Result, modules map[string]*model.ModuleDescriptor) Decision {
	var supersede, conflicts []*model.Result

	for _, existing := range canonical {
		if existing.ID == candidate.ID {
			continue
		}
		if existing.ModuleID == candidate.ModuleID {
			switch {
			case candidate.ModuleVersion > existing.ModuleVersion:
				supersede = append(supersede, existing)
			case candidate.ModuleVersion < existing.ModuleVersion:
				return Decision{Reason: fmt.Sprintf("%v: version %d is older than canonical %s (version %d)",
					model.ErrStaleModuleVersion, candidate.ModuleVersion, existing.ID, existing.ModuleVersion)}
			case candidate.InputSeq > existing.InputSeq:
				supersede = append(supersede, existing)
			case candidate.InputSeq < existing.InputSeq:
				return Decision{Reason: fmt.Sprintf("stale input revision %d, canonical %s covers revision %d",
					candidate.InputSeq, existing.ID, existing.InputSeq)}
			default:
				return Decision{Reason: fmt.Sprintf("duplicate of canonical %s", existing.ID)}
			}
			continue
		}

		if sharesOutput(candidate.ModuleID, existing.ModuleID, modules) {
			conflicts = append(conflicts, existing)
		}
	}

	if len(conflicts) > 0 {
		first := conflicts[0]
		return Decision{
			Reason: fmt.Sprintf("%v: overlaps canonical %s of module %s",
				model.ErrConflictUnresolved, first.ID, first.ModuleID),
			Conflicts: conflicts,
		}
	}
	return Decision{Promote: true, Supersede: supersede}
}

// sharesOutput reports whether two modules write a common output kind. An
// unknown module is assumed to share.
func sharesOutput(a, b string, modules map[string]*model.ModuleDescriptor) bool {
	ma, mb := modules[a], modules[b]
	if ma == nil || mb == nil {
		return true
	}
	return ma.SharesOutputWith(mb)
}
