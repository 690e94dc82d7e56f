// Package identity derives stable, deterministic identifiers for canonical
// entities, assertions, and evidence quotes. Resolution is pure: the same
// inputs always produce the same ID, so repeated extractions of the same
// real-world thing converge onto one graph node instead of duplicating it.
//
// The normalization recipe (trim, case-fold, strip punctuation, collapse
// whitespace) is part of the ID contract. Changing it after data has been
// committed makes previously written canonical IDs unreachable by new
// extractions; that is a breaking migration, not a code tweak.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const hashLength = 16

// Resolve maps an entity class and identity label to a stable canonical ID of
// the form "<class>-<hash>". Inputs are normalized before hashing so that
// case, surrounding whitespace, and punctuation variants of the same label
// resolve to the same ID.
func Resolve(className, label string) string {
	class := SanitizeClassName(className)
	normalized := NormalizeLabel(label)
	return class + "-" + contentHash(class+"|"+normalized)
}

// AssertionID derives the deterministic key of a reified assertion from its
// subject, predicate, object, and source document. Committing the same
// statement from the same document twice yields the same assertion, which is
// what makes re-commits idempotent. Optional position markers distinguish
// repeated statements within one document.
func AssertionID(subjectID, predicate, objectID, documentID string, positions ...string) string {
	parts := []string{subjectID, NormalizeLabel(predicate), objectID, documentID}
	parts = append(parts, positions...)
	return "as-" + contentHash(strings.Join(parts, "|"))
}

// TextHash hashes a verbatim evidence quote for per-target deduplication of
// evidence links.
func TextHash(quote string) string {
	return contentHash(strings.TrimSpace(quote))
}

// SanitizeClassName reduces an entity type to a lowercase identifier-safe
// token: letters, digits, and underscores only. "Legal Person" and
// "legal-person" both become "legal_person".
func SanitizeClassName(className string) string {
	var b strings.Builder
	b.Grow(len(className))
	lastUnderscore := false
	for _, r := range strings.TrimSpace(className) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	s := strings.TrimSuffix(b.String(), "_")
	if s == "" {
		return "entity"
	}
	return s
}

// NormalizeLabel canonicalizes free-form label text before hashing: trim,
// case-fold, strip punctuation, collapse runs of whitespace to single spaces.
func NormalizeLabel(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}
