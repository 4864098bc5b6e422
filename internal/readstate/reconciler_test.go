package readstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lodgeline/lodgeline/internal/convo"
	"github.com/lodgeline/lodgeline/internal/message"
)

var (
	t0 = time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(5 * time.Minute)
)

func msg(id, from, to string, at time.Time, read bool) message.Message {
	return message.Message{
		ID:          id,
		SenderID:    from,
		RecipientID: to,
		Content:     "body",
		IsRead:      read,
		CreatedAt:   at,
	}
}

func snapshot() []message.Message {
	return []message.Message{
		msg("m1", "U2", "U1", t0, false),
		msg("m2", "U1", "U2", t1, true),
	}
}

func unreadOf(t *testing.T, msgs []message.Message, cp string) int {
	t.Helper()
	idx, err := convo.Aggregate(msgs, "U1")
	require.NoError(t, err)
	conv, ok := idx.Get(cp)
	require.True(t, ok)
	return conv.UnreadCount
}

func newRec(maxAttempts int) *Reconciler {
	return New("U1", maxAttempts, time.Minute)
}

func TestSettleKeepsCountAtZeroWhileServerLags(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	// First poll: gateway still reports m1 unread.
	overlaid := rec.Settle(snapshot(), t1)
	require.Equal(t, 0, unreadOf(t, overlaid, "U2"))
	require.Equal(t, 1, rec.Pending(), "intent stays active until confirmed")

	// Two more lagging polls; count must not resurrect.
	for i := 0; i < 2; i++ {
		overlaid = rec.Settle(snapshot(), t1)
		require.Equal(t, 0, unreadOf(t, overlaid, "U2"))
		require.Equal(t, 1, rec.Pending())
	}
}

func TestSettleConfirmsIntentAgainstServerTruth(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	_ = rec.Settle(snapshot(), t1)
	require.Equal(t, 1, rec.Pending())

	// Server caught up: m1 now reads as read.
	confirmed := snapshot()
	confirmed[0].IsRead = true
	overlaid := rec.Settle(confirmed, t1)
	require.Equal(t, 0, unreadOf(t, overlaid, "U2"))
	require.Equal(t, 0, rec.Pending())
	require.Empty(t, rec.Due(t1.Add(time.Hour), time.Minute), "confirmed intent needs no remote retry")
}

func TestOverlayDoesNotSettleIntents(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	// Local rebuild before any poll completed: the cached snapshot is
	// empty, but the intent must survive until server truth arrives.
	out := rec.Overlay(nil)
	require.Empty(t, out)
	require.Equal(t, 1, rec.Pending())

	// Even a snapshot that looks confirmed does not consume it.
	confirmed := snapshot()
	confirmed[0].IsRead = true
	_ = rec.Overlay(confirmed)
	require.Equal(t, 1, rec.Pending())
	require.Len(t, rec.Due(t1.Add(time.Hour), time.Minute), 1, "intent still gets its remote retry")
}

func TestConfirmedIntentShieldsStaleSnapshot(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	confirmed := snapshot()
	confirmed[0].IsRead = true
	_ = rec.Settle(confirmed, t1)
	require.Equal(t, 0, rec.Pending())

	// A fetch that was already in flight when the mark landed resolves
	// late with pre-mark state; the tombstone keeps the count at zero.
	overlaid := rec.Settle(snapshot(), t1.Add(10*time.Second))
	require.Equal(t, 0, unreadOf(t, overlaid, "U2"))

	// Past the shield window the tombstone is pruned.
	_ = rec.Settle(confirmed, t1.Add(2*time.Minute))
	require.Empty(t, rec.intents)
}

func TestConversationIntentIgnoresNewerMessages(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	early := msg("m1", "U2", "U1", t0, false)
	late := msg("m9", "U2", "U1", t1.Add(time.Second), false)

	overlaid := rec.Settle([]message.Message{early, late}, t1)
	require.True(t, overlaid[0].IsRead, "message before the gesture flips")
	require.False(t, overlaid[1].IsRead, "message after the gesture stays unread")
	require.Equal(t, 1, unreadOf(t, overlaid, "U2"))

	// Once the covered message reads back from the server the intent
	// confirms even while new traffic keeps arriving.
	early.IsRead = true
	_ = rec.Settle([]message.Message{early, late}, t1)
	require.Equal(t, 0, rec.Pending())
}

func TestRemarkAfterConfirmationStartsFreshIntent(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	confirmed := snapshot()
	confirmed[0].IsRead = true
	_ = rec.Settle(confirmed, t1)
	require.Equal(t, 0, rec.Pending())

	// New unread arrived and the user marks again: a fresh intent with
	// a fresh issue time replaces the tombstone.
	scope := rec.MarkConversationRead("U2", "", t1.Add(time.Minute))
	require.Equal(t, 1, rec.Pending())
	require.True(t, rec.Has(scope))
	require.Equal(t, t1.Add(time.Minute), rec.intents[scope.key()].IssuedAt)
}

func TestSettleSingleMessageScope(t *testing.T) {
	rec := newRec(5)
	msgs := []message.Message{
		msg("m1", "U2", "U1", t0, false),
		msg("m2", "U2", "U1", t1, false),
	}
	rec.MarkMessageRead("m1", t1)

	overlaid := rec.Settle(msgs, t1)
	require.Equal(t, 1, unreadOf(t, overlaid, "U2"), "only m1 flips")
	require.True(t, overlaid[0].IsRead)
	require.False(t, overlaid[1].IsRead)
}

func TestSettleDropsStaleIntent(t *testing.T) {
	rec := newRec(5)
	rec.MarkMessageRead("gone", t1)
	require.Equal(t, 1, rec.Pending())

	// Target no longer exists in the fresh snapshot: moot, not an error.
	_ = rec.Settle(snapshot(), t1)
	require.Equal(t, 0, rec.Pending())
}

func TestSettleConversationScopesSettlement(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U3", "", t1)
	rec.MarkMessageRead("m7", t1)

	// A thread-scoped fetch for U2 carries no U3 or m7 state; neither
	// intent may be dropped as moot.
	_ = rec.SettleConversation(snapshot(), t1, "U2")
	require.Equal(t, 2, rec.Pending())

	// The matching thread fetch is authoritative for its own scope.
	rec.MarkConversationRead("U2", "", t1)
	confirmed := snapshot()
	confirmed[0].IsRead = true
	_ = rec.SettleConversation(confirmed, t1, "U2")
	require.False(t, rec.Has(Scope{CounterpartyID: "U2"}))
	require.Equal(t, 2, rec.Pending(), "U3 and m7 intents untouched")

	// The same snapshot as a full-feed settle drops both moot targets.
	_ = rec.Settle(snapshot(), t1)
	require.Equal(t, 0, rec.Pending())
}

func TestOverlayDoesNotMutateInput(t *testing.T) {
	rec := newRec(5)
	rec.MarkConversationRead("U2", "", t1)

	input := snapshot()
	_ = rec.Overlay(input)
	require.False(t, input[0].IsRead)

	_ = rec.Settle(input, t1)
	require.False(t, input[0].IsRead)
}

func TestSettlePropertyScopedConversationIntent(t *testing.T) {
	withProp := msg("m1", "U2", "U1", t0, false)
	withProp.PropertyID = "prop-7"
	other := msg("m2", "U2", "U1", t1, false)
	other.PropertyID = "prop-9"

	rec := newRec(5)
	rec.MarkConversationRead("U2", "prop-7", t1)

	overlaid := rec.Settle([]message.Message{withProp, other}, t1)
	require.True(t, overlaid[0].IsRead)
	require.False(t, overlaid[1].IsRead)
}

func TestMarkIsIdempotentPerScope(t *testing.T) {
	rec := newRec(5)
	first := rec.MarkConversationRead("U2", "", t0)
	second := rec.MarkConversationRead("U2", "", t1)
	require.Equal(t, first, second)
	require.Equal(t, 1, rec.Pending())
	require.Equal(t, t0, rec.intents[first.key()].IssuedAt, "original gesture time kept")
}

func TestDueAndFail(t *testing.T) {
	rec := New("U1", 3, time.Minute)
	scope := rec.MarkConversationRead("U2", "", t0)

	require.Empty(t, rec.Due(t0, time.Minute))
	due := rec.Due(t0.Add(2*time.Minute), time.Minute)
	require.Len(t, due, 1)
	require.Equal(t, scope, due[0].Scope)

	require.NoError(t, rec.Fail(scope))
	require.NoError(t, rec.Fail(scope))
	err := rec.Fail(scope)
	require.ErrorIs(t, err, message.ErrTransient)

	// The intent survives even past the threshold; only the error is
	// surfaced, the optimistic state never rolls back.
	require.True(t, rec.Has(scope))
}

func TestFailUnknownScopeIsNoop(t *testing.T) {
	rec := New("U1", 1, time.Minute)
	require.NoError(t, rec.Fail(Scope{MessageID: "none"}))
}
