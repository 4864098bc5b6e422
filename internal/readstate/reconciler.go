// Package readstate reconciles optimistic local mark-as-read actions
// with the server-truth snapshot delivered by each poll tick. Intents
// are an explicit set overlaid on every snapshot so unread counts never
// climb back up while a remote markRead call is still in flight. Only a
// fresh fetch result may settle the set (Settle); local rebuilds between
// polls use the side-effect-free Overlay.
package readstate

import (
	"fmt"
	"sort"
	"time"

	"github.com/lodgeline/lodgeline/internal/message"
)

// Scope identifies what an intent covers: a single message, or every
// message from one counterparty (optionally narrowed to a property).
type Scope struct {
	MessageID      string
	CounterpartyID string
	PropertyID     string
}

func (s Scope) key() string {
	if s.MessageID != "" {
		return "msg:" + s.MessageID
	}
	return "conv:" + s.CounterpartyID + "/" + s.PropertyID
}

// String renders the scope for logs.
func (s Scope) String() string {
	if s.MessageID != "" {
		return fmt.Sprintf("message %s", s.MessageID)
	}
	if s.PropertyID != "" {
		return fmt.Sprintf("conversation %s (property %s)", s.CounterpartyID, s.PropertyID)
	}
	return fmt.Sprintf("conversation %s", s.CounterpartyID)
}

// Intent is a single mark-as-read action. It lives from the user
// gesture until a poll snapshot confirms the server saw it, then
// lingers briefly as a tombstone so a fetch that was already in flight
// when the mark landed cannot resurrect the unread count.
type Intent struct {
	Scope       Scope
	IssuedAt    time.Time
	Attempts    int
	ConfirmedAt time.Time
}

func (it *Intent) confirmed() bool { return !it.ConfirmedAt.IsZero() }

// Reconciler owns the intent set for one user session. It is not safe
// for concurrent use; the session serializes access.
type Reconciler struct {
	localUserID string
	maxAttempts int
	confirmTTL  time.Duration
	intents     map[string]*Intent
}

const defaultConfirmTTL = 30 * time.Second

// New creates a reconciler. maxAttempts bounds remote markRead retries
// before the failure is surfaced as retryable; <=0 means never surface.
// confirmTTL is how long a confirmed intent keeps shielding the unread
// count from stale in-flight fetches; <=0 uses a 30s default.
func New(localUserID string, maxAttempts int, confirmTTL time.Duration) *Reconciler {
	if confirmTTL <= 0 {
		confirmTTL = defaultConfirmTTL
	}
	return &Reconciler{
		localUserID: localUserID,
		maxAttempts: maxAttempts,
		confirmTTL:  confirmTTL,
		intents:     make(map[string]*Intent),
	}
}

// MarkMessageRead records an intent covering a single message.
// Re-marking a scope whose intent is still unconfirmed keeps the
// original intent (idempotent); a confirmed one is replaced by a fresh
// intent with a new issue time.
func (r *Reconciler) MarkMessageRead(id string, now time.Time) Scope {
	return r.add(Scope{MessageID: id}, now)
}

// MarkConversationRead records an intent covering a whole conversation,
// optionally narrowed to one property.
func (r *Reconciler) MarkConversationRead(counterpartyID, propertyID string, now time.Time) Scope {
	return r.add(Scope{CounterpartyID: counterpartyID, PropertyID: propertyID}, now)
}

func (r *Reconciler) add(scope Scope, now time.Time) Scope {
	key := scope.key()
	if existing, ok := r.intents[key]; ok && !existing.confirmed() {
		return scope
	}
	r.intents[key] = &Intent{Scope: scope, IssuedAt: now}
	return scope
}

// Overlay applies every live intent on top of a snapshot without
// settling the set. Local rebuilds between polls must not confirm or
// drop anything: before the first fetch the snapshot is empty, and a
// rebuild against it would otherwise discard the intent as moot.
// The input slice is not mutated.
func (r *Reconciler) Overlay(msgs []message.Message) []message.Message {
	out := message.CloneSlice(msgs)
	for _, intent := range r.intents {
		applyIntent(out, intent, r.localUserID)
	}
	return out
}

// Settle overlays like Overlay, then reconciles the intent set against
// a fresh full-feed snapshot:
//
//   - intents whose in-scope messages the server already reports read
//     are confirmed; they linger as tombstones for confirmTTL so a
//     slower fetch racing the mark cannot resurrect the count,
//   - intents whose targets vanished from the snapshot are moot stale
//     writes and are dropped silently,
//   - expired tombstones are discarded,
//   - everything else stays pending and is re-applied.
//
// The input slice is not mutated.
func (r *Reconciler) Settle(msgs []message.Message, now time.Time) []message.Message {
	return r.settle(msgs, now, "")
}

// SettleConversation settles only intents scoped to counterpartyID,
// plus message intents present in msgs. A thread-scoped fetch is not
// server truth for other conversations and must not drop their intents.
func (r *Reconciler) SettleConversation(msgs []message.Message, now time.Time, counterpartyID string) []message.Message {
	return r.settle(msgs, now, counterpartyID)
}

func (r *Reconciler) settle(msgs []message.Message, now time.Time, counterpartyID string) []message.Message {
	out := message.CloneSlice(msgs)
	for key, intent := range r.intents {
		matched, flipped := applyIntent(out, intent, r.localUserID)
		if intent.confirmed() {
			if now.Sub(intent.ConfirmedAt) > r.confirmTTL {
				delete(r.intents, key)
			}
			continue
		}
		if counterpartyID != "" {
			if intent.Scope.MessageID != "" {
				if !matched {
					// Absent from a partial snapshot proves nothing.
					continue
				}
			} else if intent.Scope.CounterpartyID != counterpartyID {
				continue
			}
		}
		switch {
		case !matched:
			// Target gone: delete raced the mark, nothing left to do.
			delete(r.intents, key)
		case !flipped:
			// Server truth shows everything in scope as read.
			intent.ConfirmedAt = now
		}
	}
	return out
}

// applyIntent flips unread in-scope messages. matched reports whether
// any message fell in scope at all; flipped whether any flip happened.
func applyIntent(msgs []message.Message, intent *Intent, localUserID string) (matched, flipped bool) {
	for i := range msgs {
		if !intentCovers(intent, msgs[i], localUserID) {
			continue
		}
		matched = true
		if msgs[i].IsRead {
			continue
		}
		readAt := intent.IssuedAt
		msgs[i].IsRead = true
		msgs[i].ReadAt = &readAt
		flipped = true
	}
	return matched, flipped
}

// intentCovers reports whether m falls under the intent. Conversation
// scopes only reach messages that existed when the user acted: anything
// newer is genuinely unread and must not be suppressed.
func intentCovers(intent *Intent, m message.Message, localUserID string) bool {
	if m.RecipientID != localUserID {
		return false
	}
	scope := intent.Scope
	if scope.MessageID != "" {
		return m.ID == scope.MessageID
	}
	if m.SenderID != scope.CounterpartyID {
		return false
	}
	if scope.PropertyID != "" && m.PropertyID != scope.PropertyID {
		return false
	}
	return !m.CreatedAt.After(intent.IssuedAt)
}

// Due returns unconfirmed intents issued more than olderThan ago,
// oldest first. These need their remote markRead call reissued.
func (r *Reconciler) Due(now time.Time, olderThan time.Duration) []Intent {
	out := make([]Intent, 0)
	for _, intent := range r.intents {
		if intent.confirmed() {
			continue
		}
		if now.Sub(intent.IssuedAt) > olderThan {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].Scope.key() < out[j].Scope.key()
	})
	return out
}

// Fail records a failed remote markRead attempt for the scope. The
// intent stays active regardless; once attempts reach the configured
// threshold a retryable error is returned for the presentation layer.
func (r *Reconciler) Fail(scope Scope) error {
	intent, ok := r.intents[scope.key()]
	if !ok || intent.confirmed() {
		return nil
	}
	intent.Attempts++
	if r.maxAttempts > 0 && intent.Attempts >= r.maxAttempts {
		return fmt.Errorf("%w: mark read of %s failed %d times", message.ErrTransient, scope, intent.Attempts)
	}
	return nil
}

// Pending returns the number of unconfirmed intents.
func (r *Reconciler) Pending() int {
	n := 0
	for _, intent := range r.intents {
		if !intent.confirmed() {
			n++
		}
	}
	return n
}

// Has reports whether an intent for the scope is still unconfirmed.
func (r *Reconciler) Has(scope Scope) bool {
	intent, ok := r.intents[scope.key()]
	return ok && !intent.confirmed()
}
