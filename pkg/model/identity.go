package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Domain prefixes for derived identifiers. The version suffix leaves room
// for a future change of the hashed fields.
const (
	domainWorkItem = "obscore/workitem/v1"
	domainResult   = "obscore/result/v1"
	domainConflict = "obscore/conflict/v1"
)

// hashFields computes SHA256(domain 0x00 f1 0x00 f2 ...). The separators keep
// field boundaries unambiguous.
func hashFields(domain string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, f := range fields {
		h.Write([]byte{0x00})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WorkItemID derives the identity of a work item. Re-planning the same
// module, version, slice and input revision yields the same ID.
func WorkItemID(moduleID string, version int, s DataSlice, inputSeq int64) string {
	return "wi_" + hashFields(domainWorkItem,
		moduleID,
		strconv.Itoa(version),
		s.Key,
		strconv.FormatInt(s.Start.UnixNano(), 10),
		strconv.FormatInt(s.End.UnixNano(), 10),
		strconv.FormatInt(inputSeq, 10),
	)[:32]
}

// ResultID derives the identity of the result of one execution attempt.
func ResultID(workItemID string, attempt int, producer string) string {
	return "res_" + hashFields(domainResult, workItemID, strconv.Itoa(attempt), producer)[:32]
}

// ConflictID derives the identity of a conflict between two results.
func ConflictID(keptID, rejectedID string) string {
	return "cfl_" + hashFields(domainConflict, keptID, rejectedID)[:32]
}
