package convo

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lodgeline/lodgeline/internal/message"
)

var (
	t0 = time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(5 * time.Minute)
	t2 = t0.Add(10 * time.Minute)
)

func msg(id, from, to string, at time.Time, read bool) message.Message {
	return message.Message{
		ID:          id,
		SenderID:    from,
		RecipientID: to,
		Content:     "body of " + id,
		IsRead:      read,
		CreatedAt:   at,
	}
}

func TestAggregateSingleConversation(t *testing.T) {
	msgs := []message.Message{
		msg("m1", "U2", "U1", t0, false),
		msg("m2", "U1", "U2", t1, true),
	}

	idx, err := Aggregate(msgs, "U1")
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	conv, ok := idx.Get("U2")
	require.True(t, ok)
	require.Equal(t, 1, conv.UnreadCount)
	require.Equal(t, "m2", conv.LastMessage.ID)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "m1", conv.Messages[0].ID)
	require.Equal(t, 1, idx.GlobalUnread())
}

func TestAggregateDedupAcrossFeeds(t *testing.T) {
	// m1 appears in both the inbox and sent fetch results; the sent copy
	// already carries the read flag.
	unreadCopy := msg("m1", "U2", "U1", t0, false)
	readAt := t1
	readCopy := msg("m1", "U2", "U1", t0, true)
	readCopy.ReadAt = &readAt

	idx, err := Aggregate([]message.Message{unreadCopy, readCopy}, "U1")
	require.NoError(t, err)

	conv, ok := idx.Get("U2")
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	require.True(t, conv.Messages[0].IsRead, "read-state of the updated record wins")
	require.Equal(t, 0, conv.UnreadCount)
}

func TestAggregateIdempotent(t *testing.T) {
	msgs := []message.Message{
		msg("m3", "U3", "U1", t2, false),
		msg("m1", "U2", "U1", t0, false),
		msg("m2", "U1", "U2", t1, true),
		msg("m4", "U1", "U3", t0, true),
	}

	first, err := Aggregate(msgs, "U1")
	require.NoError(t, err)
	second, err := Aggregate(msgs, "U1")
	require.NoError(t, err)

	require.True(t, reflect.DeepEqual(first.Conversations(), second.Conversations()))
	require.Equal(t, first.GlobalUnread(), second.GlobalUnread())
}

func TestAggregateOrderingAndTies(t *testing.T) {
	// Three conversations; two share an identical last-message timestamp.
	msgs := []message.Message{
		msg("a1", "U2", "U1", t1, false),
		msg("b1", "U3", "U1", t1, false),
		msg("c1", "U4", "U1", t0, false),
	}

	idx, err := Aggregate(msgs, "U1")
	require.NoError(t, err)
	list := idx.Conversations()
	require.Len(t, list, 3)

	// Tie between a1 and b1 breaks by last-message id, descending scan.
	require.Equal(t, "U3", list[0].CounterpartyID)
	require.Equal(t, "U2", list[1].CounterpartyID)
	require.Equal(t, "U4", list[2].CounterpartyID)

	// Repeated aggregation reproduces the exact order.
	again, err := Aggregate(msgs, "U1")
	require.NoError(t, err)
	require.Equal(t, counterparties(list), counterparties(again.Conversations()))
}

func TestAggregateEqualTimestampsWithinConversation(t *testing.T) {
	msgs := []message.Message{
		msg("m2", "U2", "U1", t0, false),
		msg("m1", "U2", "U1", t0, false),
	}
	idx, err := Aggregate(msgs, "U1")
	require.NoError(t, err)
	conv, _ := idx.Get("U2")
	require.Equal(t, "m1", conv.Messages[0].ID, "equal timestamps order by id")
	require.Equal(t, "m2", conv.LastMessage.ID)
}

func TestAggregateRejectsForeignMessage(t *testing.T) {
	msgs := []message.Message{
		msg("m1", "U2", "U1", t0, false),
		msg("mx", "U5", "U6", t1, false),
	}
	_, err := Aggregate(msgs, "U1")
	require.ErrorIs(t, err, message.ErrInvariantViolation)
}

func TestAggregateRequiresLocalUser(t *testing.T) {
	_, err := Aggregate([]message.Message{msg("m1", "U2", "U1", t0, false)}, "")
	require.ErrorIs(t, err, message.ErrInvalidState)
}

func TestAggregateProfileSnapshotFromLatestCarrier(t *testing.T) {
	early := msg("m1", "U2", "U1", t0, true)
	early.Sender = &message.Profile{ID: "U2", Name: "Old Name"}
	late := msg("m2", "U2", "U1", t1, true)
	late.Sender = &message.Profile{ID: "U2", Name: "New Name", Email: "u2@example.com"}
	bare := msg("m3", "U1", "U2", t2, true)

	idx, err := Aggregate([]message.Message{early, late, bare}, "U1")
	require.NoError(t, err)
	conv, _ := idx.Get("U2")
	require.NotNil(t, conv.Counterparty)
	require.Equal(t, "New Name", conv.Counterparty.Name)
}

func TestAggregateEmptyInput(t *testing.T) {
	idx, err := Aggregate(nil, "U1")
	require.NoError(t, err)
	require.Equal(t, 0, idx.Len())
	require.Equal(t, 0, idx.GlobalUnread())
	require.Empty(t, idx.Conversations())
}

func TestConversationsReturnsCopies(t *testing.T) {
	idx, err := Aggregate([]message.Message{msg("m1", "U2", "U1", t0, false)}, "U1")
	require.NoError(t, err)

	list := idx.Conversations()
	list[0].Messages[0].IsRead = true
	list[0].UnreadCount = 0

	fresh, _ := idx.Get("U2")
	require.False(t, fresh.Messages[0].IsRead)
	require.Equal(t, 1, fresh.UnreadCount)
}

func counterparties(list []Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.CounterpartyID
	}
	return out
}
