package services

import "dupguard/internal/models"

// Decide turns an ordered match list into a verdict for an image posted by
// authorID.
func Decide(matches []models.Match, mode models.CheckMode, authorID string) models.Decision {
	for i := range matches {
		if IsViolationAgainst(matches[i].AuthorID, authorID, mode) {
			m := matches[i]
			return models.Decision{Verdict: models.VerdictViolation, Match: &m}
		}
	}
	return models.Decision{Verdict: models.VerdictUnique}
}

// IsViolationAgainst reports whether reposting an image first posted by
// originalAuthor is a violation for authorID. An unknown original author is
// never the same author.
func IsViolationAgainst(originalAuthor, authorID string, mode models.CheckMode) bool {
	if mode == models.ModeOwnerAllowed {
		return originalAuthor == "" || originalAuthor != authorID
	}
	return true
}
