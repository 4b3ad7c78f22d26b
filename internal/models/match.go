package models

import "time"

// Match is a stored record within the similarity threshold of a new image.
type Match struct {
	Identifier      string
	Distance        int
	SourceMessageID string
	AuthorID        string
	CreatedAt       time.Time
}

type Verdict int

const (
	VerdictUnique Verdict = iota
	VerdictViolation
)

func (v Verdict) String() string {
	if v == VerdictViolation {
		return "VIOLATION"
	}
	return "UNIQUE"
}

// Decision is the outcome for one image. Match is set only for violations.
type Decision struct {
	Verdict Verdict
	Match   *Match
}

// Violation is the report handed to the responder. It never mutates the store.
type Violation struct {
	Identifier        string
	Distance          int
	OriginalMessageID string
	OriginalAuthorID  string
	OriginalChannelID string
	Hash              string
}

func (d Decision) Violation(hash, channelID string) *Violation {
	if d.Verdict != VerdictViolation || d.Match == nil {
		return nil
	}
	return &Violation{
		Identifier:        d.Match.Identifier,
		Distance:          d.Match.Distance,
		OriginalMessageID: d.Match.SourceMessageID,
		OriginalAuthorID:  d.Match.AuthorID,
		OriginalChannelID: channelID,
		Hash:              hash,
	}
}
