package models

import (
	"bytes"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// FingerprintStore is one server's fingerprint database. The document holds
// both layouts side by side: records at the top level (server scope) and
// channel id → records maps (channel scope). The policy scope picks which
// one is read and written; the other is carried through untouched so that
// switching scope never drops data.
type FingerprintStore struct {
	Flat     map[string]FingerprintRecord
	Channels map[string]map[string]FingerprintRecord

	// Skipped lists entries that could not be read as records. They are
	// reported by the loader and not written back.
	Skipped []string
}

func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{
		Flat:     make(map[string]FingerprintRecord),
		Channels: make(map[string]map[string]FingerprintRecord),
	}
}

// Partition returns the candidate pool for a lookup. Unknown scopes get nil.
// The returned map must be treated as read-only.
func (s *FingerprintStore) Partition(scope Scope, channelID string) map[string]FingerprintRecord {
	switch scope {
	case ScopeServer:
		return s.Flat
	case ScopeChannel:
		return s.Channels[channelID]
	default:
		return nil
	}
}

func (s *FingerprintStore) Put(scope Scope, channelID, identifier string, rec FingerprintRecord) error {
	switch scope {
	case ScopeServer:
		s.Flat[identifier] = rec
	case ScopeChannel:
		part, ok := s.Channels[channelID]
		if !ok {
			part = make(map[string]FingerprintRecord)
			s.Channels[channelID] = part
		}
		part[identifier] = rec
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}
	return nil
}

func (s *FingerprintStore) Remove(scope Scope, channelID, identifier string) bool {
	part := s.Partition(scope, channelID)
	if _, ok := part[identifier]; !ok {
		return false
	}
	delete(part, identifier)
	if scope == ScopeChannel && len(part) == 0 {
		delete(s.Channels, channelID)
	}
	return true
}

// RemoveMessage drops every record whose identifier belongs to messageID, in
// either layout, and returns the removed identifiers.
func (s *FingerprintStore) RemoveMessage(messageID string) []string {
	var removed []string
	match := func(id string) bool {
		k, err := ParseRecordKey(id)
		return err == nil && k.MessageID == messageID
	}
	for id := range s.Flat {
		if match(id) {
			delete(s.Flat, id)
			removed = append(removed, id)
		}
	}
	for ch, part := range s.Channels {
		for id := range part {
			if match(id) {
				delete(part, id)
				removed = append(removed, id)
			}
		}
		if len(part) == 0 {
			delete(s.Channels, ch)
		}
	}
	sort.Strings(removed)
	return removed
}

func (s *FingerprintStore) ClearChannel(channelID string) int {
	n := len(s.Channels[channelID])
	delete(s.Channels, channelID)
	return n
}

func (s *FingerprintStore) Clear() int {
	n := s.Count()
	s.Flat = make(map[string]FingerprintRecord)
	s.Channels = make(map[string]map[string]FingerprintRecord)
	return n
}

func (s *FingerprintStore) Count() int {
	n := len(s.Flat)
	for _, part := range s.Channels {
		n += len(part)
	}
	return n
}

func (s *FingerprintStore) Clone() *FingerprintStore {
	c := NewFingerprintStore()
	for id, rec := range s.Flat {
		c.Flat[id] = rec
	}
	for ch, part := range s.Channels {
		cp := make(map[string]FingerprintRecord, len(part))
		for id, rec := range part {
			cp[id] = rec
		}
		c.Channels[ch] = cp
	}
	return c
}

func (s *FingerprintStore) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Flat)+len(s.Channels))
	for id, rec := range s.Flat {
		doc[id] = rec
	}
	for ch, part := range s.Channels {
		if len(part) == 0 {
			continue
		}
		doc[ch] = part
	}
	return json.Marshal(doc)
}

// UnmarshalJSON sorts each top-level value into a layout per entry: a string
// or an object with a "hash" key is a record, any other object is a channel
// partition. Unreadable entries are listed in Skipped instead of failing.
func (s *FingerprintStore) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	if top == nil {
		return fmt.Errorf("%w: document is not an object", ErrRecordShape)
	}
	*s = *NewFingerprintStore()
	for key, raw := range top {
		if looksLikeRecord(raw) {
			var rec FingerprintRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				s.Skipped = append(s.Skipped, key)
				continue
			}
			s.Flat[key] = rec
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
			s.Skipped = append(s.Skipped, key)
			continue
		}
		part := make(map[string]FingerprintRecord, len(inner))
		for id, v := range inner {
			var rec FingerprintRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.Skipped = append(s.Skipped, key+"/"+id)
				continue
			}
			part[id] = rec
		}
		s.Channels[key] = part
	}
	sort.Strings(s.Skipped)
	return nil
}

func looksLikeRecord(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	if raw[0] == '"' {
		return true
	}
	if raw[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["hash"]
	return ok
}
