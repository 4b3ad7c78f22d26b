package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidKey = errors.New("invalid record identifier")

// RecordKey identifies the attachment a fingerprint came from. Its string form
// "{message_id}-{filename}" is the store key; message ids never contain '-',
// so splitting at the first '-' is reversible even for dashed filenames.
type RecordKey struct {
	MessageID string
	Filename  string
}

func (k RecordKey) String() string {
	return k.MessageID + "-" + k.Filename
}

func ParseRecordKey(id string) (RecordKey, error) {
	msg, file, ok := strings.Cut(id, "-")
	if !ok || msg == "" || strings.ContainsAny(msg, " \t") {
		return RecordKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return RecordKey{MessageID: msg, Filename: file}, nil
}
