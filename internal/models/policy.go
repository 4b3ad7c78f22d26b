package models

import (
	"fmt"
	"slices"
)

type Scope string

const (
	ScopeServer  Scope = "server"
	ScopeChannel Scope = "channel"
)

func (s Scope) Valid() bool { return s == ScopeServer || s == ScopeChannel }

type CheckMode string

const (
	ModeStrict       CheckMode = "strict"
	ModeOwnerAllowed CheckMode = "owner_allowed"
)

func (m CheckMode) Valid() bool { return m == ModeStrict || m == ModeOwnerAllowed }

const (
	DefaultHashSize      = 8
	DefaultThreshold     = 5
	DefaultEmoji         = "⚠️"
	DefaultCatchUpLimit  = 100
	MinCatchUpLimit      = 10
	MaxCatchUpLimit      = 1000
	MaxReplyTemplateSize = 1500
	HashFilePrefix       = "hashes_"
)

// DefaultReplyTemplate placeholders:
//
//	{mention}               poster of the duplicate
//	{filename}              attachment filename
//	{identifier}            matched record identifier
//	{distance}              Hamming distance
//	{original_user_mention} original poster, or *Unknown*
//	{emoji}                 configured reaction glyph
//	{original_user_info}    ", Orig User: <mention>" when known
//	{jump_link}             "\nOriginal: <link>" when known
const DefaultReplyTemplate = "{emoji} Hold on, {mention}! Image `{filename}` similar to recent submission (ID: `{identifier}`, Dist: {distance}{original_user_info}).{jump_link}"

// ServerPolicy is the per-server configuration. JSON names follow the
// original server_configs.json so existing files load unchanged.
type ServerPolicy struct {
	HashDBFile          string    `json:"hash_db_file"`
	HashSize            int       `json:"hash_size" validate:"required|min:4|max:32"`
	SimilarityThreshold int       `json:"similarity_threshold" validate:"min:0|max:1024"`
	AllowedChannelIDs   []string  `json:"allowed_channel_ids"`
	ReactToDuplicates   bool      `json:"react_to_duplicates"`
	DeleteDuplicates    bool      `json:"delete_duplicates"`
	ReplyOnDuplicate    bool      `json:"reply_on_duplicate"`
	ReactionEmoji       string    `json:"duplicate_reaction_emoji" validate:"required|maxLen:64"`
	Scope               Scope     `json:"duplicate_scope"`
	CheckMode           CheckMode `json:"duplicate_check_mode"`
	RetentionDays       int       `json:"duplicate_check_duration_days" validate:"min:0|max:36500"`
	AllowedUsers        []string  `json:"allowed_users"`
	ReplyTemplate       string    `json:"duplicate_reply_template" validate:"required|maxLen:1500"`
	LogChannelID        string    `json:"log_channel_id"`
	CatchUpEnabled      bool      `json:"enable_catchup_on_startup"`
	CatchUpLimit        int       `json:"catchup_limit_per_channel" validate:"required|min:10|max:1000"`
}

func DefaultPolicy(serverID string) ServerPolicy {
	return ServerPolicy{
		HashDBFile:          HashFileName(serverID),
		HashSize:            DefaultHashSize,
		SimilarityThreshold: DefaultThreshold,
		AllowedChannelIDs:   nil,
		ReactToDuplicates:   true,
		DeleteDuplicates:    false,
		ReplyOnDuplicate:    true,
		ReactionEmoji:       DefaultEmoji,
		Scope:               ScopeServer,
		CheckMode:           ModeStrict,
		RetentionDays:       0,
		AllowedUsers:        []string{},
		ReplyTemplate:       DefaultReplyTemplate,
		CatchUpEnabled:      false,
		CatchUpLimit:        DefaultCatchUpLimit,
	}
}

func HashFileName(serverID string) string {
	return fmt.Sprintf("%s%s.json", HashFilePrefix, serverID)
}

// Monitors reports whether live detection applies to channelID. A nil list
// means every channel.
func (p ServerPolicy) Monitors(channelID string) bool {
	if p.AllowedChannelIDs == nil {
		return true
	}
	return slices.Contains(p.AllowedChannelIDs, channelID)
}

func (p ServerPolicy) Exempt(userID string) bool {
	return slices.Contains(p.AllowedUsers, userID)
}

func (p ServerPolicy) Clone() ServerPolicy {
	c := p
	if p.AllowedChannelIDs != nil {
		c.AllowedChannelIDs = slices.Clone(p.AllowedChannelIDs)
	}
	c.AllowedUsers = slices.Clone(p.AllowedUsers)
	if c.AllowedUsers == nil {
		c.AllowedUsers = []string{}
	}
	return c
}
