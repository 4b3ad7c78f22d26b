package storage

import (
	"bytes"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gookit/validate"
	"github.com/spf13/cast"
)

var (
	ErrInvalidPolicy = errors.New("invalid policy value")
	ErrUnknownField  = errors.New("unknown policy field")
	ErrInvalidServer = errors.New("invalid server id")
)

// PolicyRepository is the in-memory policy cache backed by one shared JSON
// document. Reads hand out copies; every mutation goes through validation
// and is written through before it becomes visible.
type PolicyRepository struct {
	path   string
	files  *FileManager
	logger providers.Logger

	mu       sync.RWMutex
	policies map[string]models.ServerPolicy
	migrated map[string]bool
}

func NewPolicyRepository(conf *structures.Config, files *FileManager, logger providers.Logger) *PolicyRepository {
	path := conf.Storage.PolicyFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(conf.Storage.DataDir, path)
	}
	return &PolicyRepository{
		path:     path,
		files:    files,
		logger:   logger,
		policies: make(map[string]models.ServerPolicy),
		migrated: make(map[string]bool),
	}
}

// Restore replaces the cache with the document on disk. Bad server ids are
// skipped, bad values fall back to defaults; both are logged as warnings.
// A missing file leaves an empty cache.
func (r *PolicyRepository) Restore() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Infof(providers.TypeStore, "Policy file %s not found, defaults will be used", r.path)
			r.replace(map[string]models.ServerPolicy{}, map[string]bool{})
			return nil
		}
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]map[string]any
	if err := dec.Decode(&doc); err != nil {
		r.logger.Errorf(providers.TypeStore, "Could not decode policy file %s: %s", r.path, err)
		r.replace(map[string]models.ServerPolicy{}, map[string]bool{})
		return nil
	}

	policies := make(map[string]models.ServerPolicy, len(doc))
	migrated := make(map[string]bool)
	for serverID, raw := range doc {
		if !isID(serverID) {
			r.logger.Warnf(providers.TypeStore, "Invalid server id %q in policy file, skipping", serverID)
			continue
		}
		p, warnings, incomplete := decodePolicy(serverID, raw)
		for _, w := range warnings {
			r.logger.Warnf(providers.TypeStore, "Server %s: %s, using default", serverID, w)
		}
		policies[serverID] = p
		if incomplete || len(warnings) > 0 {
			migrated[serverID] = true
		}
	}
	r.replace(policies, migrated)
	r.logger.Infof(providers.TypeStore, "Loaded policies for %d servers", len(policies))
	return nil
}

func (r *PolicyRepository) replace(p map[string]models.ServerPolicy, m map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = p
	r.migrated = m
}

// Save writes the whole cache.
func (r *PolicyRepository) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *PolicyRepository) saveLocked() error {
	doc := make(map[string]models.ServerPolicy, len(r.policies))
	for id, p := range r.policies {
		doc[id] = p
	}
	if err := r.files.SaveJSON(r.path, doc); err != nil {
		r.logger.Errorf(providers.TypeStore, "Failed to save policy file %s: %s", r.path, err)
		return err
	}
	return nil
}

// GetOrCreateDefault returns the server's policy, creating it with defaults
// on first reference. The flag is true when the cached entry was created now
// or was repaired on load and has not been saved since; the caller decides
// whether to persist.
func (r *PolicyRepository) GetOrCreateDefault(serverID string) (models.ServerPolicy, bool) {
	r.mu.RLock()
	p, ok := r.policies[serverID]
	migrated := r.migrated[serverID]
	r.mu.RUnlock()
	if ok {
		return p.Clone(), migrated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[serverID]; ok {
		return p.Clone(), r.migrated[serverID]
	}
	p = models.DefaultPolicy(serverID)
	r.policies[serverID] = p
	r.migrated[serverID] = true
	r.logger.Debugf(providers.TypeStore, "Created default policy for server %s", serverID)
	return p.Clone(), true
}

// Ensure is GetOrCreateDefault plus the save it may call for. A failed save
// is logged and the cached policy is still returned.
func (r *PolicyRepository) Ensure(serverID string) models.ServerPolicy {
	p, dirty := r.GetOrCreateDefault(serverID)
	if !dirty {
		return p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveLocked(); err == nil {
		delete(r.migrated, serverID)
	}
	return p
}

// Servers lists the cached server ids.
func (r *PolicyRepository) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Set validates and applies one field, then writes the document. On any
// failure the cache is left as it was.
func (r *PolicyRepository) Set(serverID, field string, raw any) (models.ServerPolicy, error) {
	return r.Update(serverID, func(p *models.ServerPolicy) error {
		return applyField(p, field, raw, true)
	})
}

// Update runs fn on a copy of the policy, validates the result and commits
// it only if the write succeeds.
func (r *PolicyRepository) Update(serverID string, fn func(p *models.ServerPolicy) error) (models.ServerPolicy, error) {
	if !isID(serverID) {
		return models.ServerPolicy{}, fmt.Errorf("%w: %q", ErrInvalidServer, serverID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.policies[serverID]
	if !existed {
		prev = models.DefaultPolicy(serverID)
	}
	next := prev.Clone()
	if err := fn(&next); err != nil {
		return prev.Clone(), err
	}
	next.HashDBFile = models.HashFileName(serverID)
	if err := validatePolicy(next); err != nil {
		return prev.Clone(), err
	}

	r.policies[serverID] = next
	if err := r.saveLocked(); err != nil {
		if existed {
			r.policies[serverID] = prev
		} else {
			delete(r.policies, serverID)
		}
		return prev.Clone(), fmt.Errorf("policy not saved: %w", err)
	}
	delete(r.migrated, serverID)
	return next.Clone(), nil
}

func (r *PolicyRepository) AddMonitoredChannel(serverID, channelID string) (models.ServerPolicy, error) {
	return r.Update(serverID, func(p *models.ServerPolicy) error {
		if !isID(channelID) {
			return fmt.Errorf("%w: channel id %q", ErrInvalidPolicy, channelID)
		}
		if !slices.Contains(p.AllowedChannelIDs, channelID) {
			p.AllowedChannelIDs = append(p.AllowedChannelIDs, channelID)
		}
		return nil
	})
}

// RemoveMonitoredChannel drops channelID from the allowlist. Removing the
// last entry turns monitoring back to all channels.
func (r *PolicyRepository) RemoveMonitoredChannel(serverID, channelID string) (models.ServerPolicy, error) {
	return r.Update(serverID, func(p *models.ServerPolicy) error {
		p.AllowedChannelIDs = slices.DeleteFunc(p.AllowedChannelIDs, func(id string) bool { return id == channelID })
		if len(p.AllowedChannelIDs) == 0 {
			p.AllowedChannelIDs = nil
		}
		return nil
	})
}

func (r *PolicyRepository) AddAllowedUser(serverID, userID string) (models.ServerPolicy, error) {
	return r.Update(serverID, func(p *models.ServerPolicy) error {
		if !isID(userID) {
			return fmt.Errorf("%w: user id %q", ErrInvalidPolicy, userID)
		}
		if !slices.Contains(p.AllowedUsers, userID) {
			p.AllowedUsers = append(p.AllowedUsers, userID)
		}
		return nil
	})
}

func (r *PolicyRepository) RemoveAllowedUser(serverID, userID string) (models.ServerPolicy, error) {
	return r.Update(serverID, func(p *models.ServerPolicy) error {
		p.AllowedUsers = slices.DeleteFunc(p.AllowedUsers, func(id string) bool { return id == userID })
		return nil
	})
}

// Fields lists the names accepted by Set.
func Fields() []string {
	names := make([]string, 0, len(fieldSetters))
	for name := range fieldSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodePolicy(serverID string, raw map[string]any) (models.ServerPolicy, []string, bool) {
	p := models.DefaultPolicy(serverID)
	var warnings []string
	incomplete := false
	for _, name := range Fields() {
		v, ok := raw[name]
		if !ok {
			incomplete = true
			continue
		}
		if err := applyField(&p, name, v, false); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	p.HashDBFile = models.HashFileName(serverID)
	return p, warnings, incomplete
}

// applyField coerces raw into the named field of p. The change is validated
// against the rest of the policy and discarded on error. In lenient mode
// malformed list entries are dropped instead of rejecting the whole list.
func applyField(p *models.ServerPolicy, field string, raw any, strict bool) error {
	set, ok := fieldSetters[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	candidate := p.Clone()
	if err := set(&candidate, normalize(raw), strict); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidPolicy, field, err)
	}
	if err := validatePolicy(candidate); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*p = candidate
	return nil
}

type fieldSetter func(p *models.ServerPolicy, v any, strict bool) error

var fieldSetters = map[string]fieldSetter{
	"hash_db_file": func(_ *models.ServerPolicy, _ any, _ bool) error { return nil },
	"hash_size": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.HashSize, err = cast.ToIntE(v)
		return
	},
	"similarity_threshold": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.SimilarityThreshold, err = cast.ToIntE(v)
		return
	},
	"allowed_channel_ids": func(p *models.ServerPolicy, v any, strict bool) error {
		ids, err := toIDList(v, strict)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			ids = nil
		}
		p.AllowedChannelIDs = ids
		return nil
	},
	"react_to_duplicates": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.ReactToDuplicates, err = cast.ToBoolE(v)
		return
	},
	"delete_duplicates": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.DeleteDuplicates, err = cast.ToBoolE(v)
		return
	},
	"reply_on_duplicate": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.ReplyOnDuplicate, err = cast.ToBoolE(v)
		return
	},
	"duplicate_reaction_emoji": func(p *models.ServerPolicy, v any, _ bool) error {
		s, err := cast.ToStringE(v)
		if err != nil {
			return err
		}
		p.ReactionEmoji = strings.TrimSpace(s)
		return nil
	},
	"duplicate_scope": func(p *models.ServerPolicy, v any, _ bool) error {
		s, err := cast.ToStringE(v)
		if err != nil {
			return err
		}
		p.Scope = models.Scope(strings.ToLower(strings.TrimSpace(s)))
		return nil
	},
	"duplicate_check_mode": func(p *models.ServerPolicy, v any, _ bool) error {
		s, err := cast.ToStringE(v)
		if err != nil {
			return err
		}
		p.CheckMode = models.CheckMode(strings.ToLower(strings.TrimSpace(s)))
		return nil
	},
	"duplicate_check_duration_days": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.RetentionDays, err = cast.ToIntE(v)
		return
	},
	"allowed_users": func(p *models.ServerPolicy, v any, strict bool) error {
		ids, err := toIDList(v, strict)
		if err != nil {
			return err
		}
		if ids == nil {
			ids = []string{}
		}
		p.AllowedUsers = ids
		return nil
	},
	"duplicate_reply_template": func(p *models.ServerPolicy, v any, _ bool) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected text, got %T", v)
		}
		p.ReplyTemplate = s
		return nil
	},
	"log_channel_id": func(p *models.ServerPolicy, v any, _ bool) error {
		if v == nil {
			p.LogChannelID = ""
			return nil
		}
		s := strings.TrimSpace(cast.ToString(v))
		if s == "" || strings.EqualFold(s, "none") {
			p.LogChannelID = ""
			return nil
		}
		if !isID(s) {
			return fmt.Errorf("%q is not an id", s)
		}
		p.LogChannelID = s
		return nil
	},
	"enable_catchup_on_startup": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.CatchUpEnabled, err = cast.ToBoolE(v)
		return
	},
	"catchup_limit_per_channel": func(p *models.ServerPolicy, v any, _ bool) (err error) {
		p.CatchUpLimit, err = cast.ToIntE(v)
		return
	},
}

// validatePolicy checks the whole policy. Numeric and length rules come from
// the struct tags; enums and cross-field rules are checked here.
func validatePolicy(p models.ServerPolicy) error {
	v := validate.Struct(&p)
	if !v.Validate() {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, v.Errors.Error())
	}
	switch {
	case p.SimilarityThreshold > p.HashSize*p.HashSize:
		return fmt.Errorf("%w: similarity_threshold %d exceeds %d bits", ErrInvalidPolicy, p.SimilarityThreshold, p.HashSize*p.HashSize)
	case !p.Scope.Valid():
		return fmt.Errorf("%w: duplicate_scope must be server or channel, got %q", ErrInvalidPolicy, p.Scope)
	case !p.CheckMode.Valid():
		return fmt.Errorf("%w: duplicate_check_mode must be strict or owner_allowed, got %q", ErrInvalidPolicy, p.CheckMode)
	case len([]rune(p.ReplyTemplate)) > models.MaxReplyTemplateSize:
		return fmt.Errorf("%w: duplicate_reply_template longer than %d characters", ErrInvalidPolicy, models.MaxReplyTemplateSize)
	}
	return nil
}

// normalize turns decoder number types into their decimal text so that large
// ids keep every digit and cast can handle the rest.
func normalize(v any) any {
	switch n := v.(type) {
	case interface {
		Int64() (int64, error)
		String() string
	}:
		return n.String()
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	return v
}

func toIDList(v any, strict bool) ([]string, error) {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "all") || strings.EqualFold(s, "none") {
			return nil, nil
		}
		for _, part := range strings.Split(s, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []any:
		items = t
	default:
		if strict {
			return nil, fmt.Errorf("expected a list of ids, got %T", v)
		}
		return nil, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		s := strings.TrimSpace(cast.ToString(normalize(item)))
		if !isID(s) {
			if strict {
				return nil, fmt.Errorf("%q is not an id", s)
			}
			continue
		}
		if !slices.Contains(ids, s) {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// isID accepts platform ids: decimal digits with an optional leading minus
// for Telegram group chats.
func isID(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
