package services

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"errors"
	"sync"
	"time"
)

type ActionKind string

const (
	ActionReply  ActionKind = "reply"
	ActionReact  ActionKind = "react"
	ActionDelete ActionKind = "delete"
	ActionLog    ActionKind = "log"
)

// ActionSet selects which responses to a violation are attempted.
type ActionSet struct {
	Reply  bool
	React  bool
	Delete bool
	Log    bool
}

func (a ActionSet) Any() bool {
	return a.Reply || a.React || a.Delete || a.Log
}

// PolicyActions is the action set a server's policy asks for on live posts.
func PolicyActions(p models.ServerPolicy) ActionSet {
	return ActionSet{
		Reply:  p.ReplyOnDuplicate,
		React:  p.ReactToDuplicates,
		Delete: p.DeleteDuplicates,
		Log:    p.LogChannelID != "",
	}
}

// ActionGuard remembers action kinds the platform refused for lack of
// permission, so a bulk run stops retrying them. A nil guard allows all.
type ActionGuard struct {
	mu       sync.Mutex
	disabled map[ActionKind]bool
}

func NewActionGuard() *ActionGuard {
	return &ActionGuard{disabled: make(map[ActionKind]bool)}
}

func (g *ActionGuard) Allowed(k ActionKind) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.disabled[k]
}

func (g *ActionGuard) disable(k ActionKind) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled[k] = true
}

// Disabled lists refused action kinds.
func (g *ActionGuard) Disabled() []ActionKind {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ActionKind, 0, len(g.disabled))
	for _, k := range []ActionKind{ActionReply, ActionReact, ActionDelete, ActionLog} {
		if g.disabled[k] {
			out = append(out, k)
		}
	}
	return out
}

// Offender is the message carrying a duplicate image.
type Offender struct {
	Ref      models.MessageRef
	AuthorID string
	Filename string
	ImageURL string
	// Flagged is set when the message already carries our reaction.
	Flagged bool
}

// Notice labels the audit entry of a response.
type Notice struct {
	Title  string
	Footer string
}

type ActionResult struct {
	Replied bool
	Reacted bool
	Deleted bool
	Logged  bool
	Failed  []ActionKind
}

func (r ActionResult) Acted() bool {
	return r.Replied || r.Reacted || r.Deleted || r.Logged
}

// Responder carries out the responses to a violation. Every action is
// attempted independently; a failure is logged and never stops the others.
type Responder struct {
	client  platform.Client
	logger  providers.Logger
	metrics providers.MetricsProviderInterface
	now     func() time.Time
}

func NewResponder(client platform.Client, logger providers.Logger, metrics providers.MetricsProviderInterface) *Responder {
	return &Responder{client: client, logger: logger, metrics: metrics, now: time.Now}
}

func (r *Responder) Respond(ctx context.Context, policy models.ServerPolicy, off Offender, v *models.Violation, actions ActionSet, notice Notice, guard *ActionGuard) ActionResult {
	var res ActionResult
	if v == nil {
		return res
	}

	var originalLink string
	if v.OriginalMessageID != "" {
		originalLink = r.client.JumpLink(models.MessageRef{
			ServerID:  off.Ref.ServerID,
			ChannelID: v.OriginalChannelID,
			MessageID: v.OriginalMessageID,
		})
	}

	if actions.Reply && guard.Allowed(ActionReply) {
		content := RenderReply(policy.ReplyTemplate, r.replyFields(policy, off, v, originalLink))
		res.Replied = r.attempt(ActionReply, off, guard, &res, func() error {
			return r.client.Reply(ctx, off.Ref, content)
		})
	}

	if actions.Log && policy.LogChannelID != "" && guard.Allowed(ActionLog) {
		entry := models.AuditEntry{
			Title:            notice.Title,
			Ref:              off.Ref,
			AuthorID:         off.AuthorID,
			Hash:             v.Hash,
			MatchIdentifier:  v.Identifier,
			Distance:         v.Distance,
			OriginalAuthorID: v.OriginalAuthorID,
			MessageLink:      r.client.JumpLink(off.Ref),
			OriginalLink:     originalLink,
			ThumbnailURL:     off.ImageURL,
			Footer:           notice.Footer,
			At:               r.now().UTC(),
		}
		res.Logged = r.attempt(ActionLog, off, guard, &res, func() error {
			return r.client.SendAudit(ctx, policy.LogChannelID, entry)
		})
	}

	if actions.React && !off.Flagged && guard.Allowed(ActionReact) {
		res.Reacted = r.attempt(ActionReact, off, guard, &res, func() error {
			return r.client.AddReaction(ctx, off.Ref, policy.ReactionEmoji)
		})
	}

	if actions.Delete && guard.Allowed(ActionDelete) {
		res.Deleted = r.attempt(ActionDelete, off, guard, &res, func() error {
			return r.client.DeleteMessage(ctx, off.Ref)
		})
	}

	return res
}

func (r *Responder) attempt(kind ActionKind, off Offender, guard *ActionGuard, res *ActionResult, fn func() error) bool {
	err := fn()
	switch {
	case err == nil:
		r.metrics.IncActions(string(kind), "ok")
		return true
	case errors.Is(err, platform.ErrForbidden):
		guard.disable(kind)
		r.metrics.IncActions(string(kind), "forbidden")
		r.logger.Warnf(providers.TypeDetect, "[S:%s] No permission to %s message %s: %s", off.Ref.ServerID, kind, off.Ref.MessageID, err)
	case errors.Is(err, platform.ErrNotFound):
		r.metrics.IncActions(string(kind), "not_found")
		r.logger.Warnf(providers.TypeDetect, "[S:%s] Message %s not found for %s", off.Ref.ServerID, off.Ref.MessageID, kind)
	default:
		r.metrics.IncActions(string(kind), "error")
		r.logger.Errorf(providers.TypeDetect, "[S:%s] Failed to %s message %s: %s", off.Ref.ServerID, kind, off.Ref.MessageID, err)
	}
	res.Failed = append(res.Failed, kind)
	return false
}

func (r *Responder) replyFields(policy models.ServerPolicy, off Offender, v *models.Violation, originalLink string) ReplyFields {
	f := ReplyFields{
		Mention:             r.client.Mention(off.AuthorID),
		Filename:            off.Filename,
		Identifier:          v.Identifier,
		Distance:            v.Distance,
		OriginalUserMention: "*Unknown*",
		Emoji:               policy.ReactionEmoji,
	}
	if v.OriginalAuthorID != "" {
		mention := r.client.Mention(v.OriginalAuthorID)
		f.OriginalUserMention = mention
		f.OriginalUserInfo = ", Orig User: " + mention
	}
	if originalLink != "" {
		f.JumpLink = "\nOriginal: " + originalLink
	}
	return f
}
