// Package convo derives per-counterparty conversations from a flat
// message stream. Aggregation is a pure function of its input: the same
// message multiset always yields the same index and ordering.
package convo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lodgeline/lodgeline/internal/message"
)

// Conversation groups every message between the local user and one
// counterparty. It is derived on each aggregation pass, never persisted.
type Conversation struct {
	CounterpartyID string
	Counterparty   *message.Profile
	Messages       []message.Message // ascending CreatedAt, ties by ID
	LastMessage    message.Message
	UnreadCount    int
}

// Index is the result of one aggregation pass over the combined feeds.
type Index struct {
	localUserID    string
	byCounterparty map[string]*Conversation
}

// Aggregate merges the deduplicated union of the inbox and sent feeds
// into a conversation index for localUserID. Any message the local user
// is not party to rejects the whole batch.
func Aggregate(msgs []message.Message, localUserID string) (*Index, error) {
	if strings.TrimSpace(localUserID) == "" {
		return nil, message.ErrInvalidState
	}

	deduped := message.Dedupe(msgs)
	groups := make(map[string][]message.Message)
	for _, m := range deduped {
		cp, err := m.Counterparty(localUserID)
		if err != nil {
			return nil, err
		}
		if cp == "" {
			return nil, fmt.Errorf("%w: message %s has no counterparty", message.ErrInvariantViolation, m.ID)
		}
		groups[cp] = append(groups[cp], message.Clone(m))
	}

	idx := &Index{
		localUserID:    localUserID,
		byCounterparty: make(map[string]*Conversation, len(groups)),
	}
	for cp, group := range groups {
		message.Sort(group)
		conv := &Conversation{
			CounterpartyID: cp,
			Messages:       group,
			LastMessage:    group[len(group)-1],
		}
		for _, m := range group {
			if m.UnreadFor(localUserID) {
				conv.UnreadCount++
			}
			if profile := m.CounterpartyProfile(localUserID); profile != nil {
				snapshot := *profile
				conv.Counterparty = &snapshot
			}
		}
		idx.byCounterparty[cp] = conv
	}
	return idx, nil
}

// Empty returns an index with no conversations for localUserID.
func Empty(localUserID string) *Index {
	return &Index{
		localUserID:    localUserID,
		byCounterparty: make(map[string]*Conversation),
	}
}

// LocalUserID returns the identity the index was built for.
func (idx *Index) LocalUserID() string { return idx.localUserID }

// Len returns the number of conversations.
func (idx *Index) Len() int { return len(idx.byCounterparty) }

// Get returns a copy of one conversation.
func (idx *Index) Get(counterpartyID string) (Conversation, bool) {
	conv, ok := idx.byCounterparty[counterpartyID]
	if !ok {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// Conversations returns all conversations ordered descending by last
// activity. Ties on the last message timestamp break by last message ID,
// then counterparty ID. The order is recomputed on every call; a new
// message in any conversation can reshuffle the whole list.
func (idx *Index) Conversations() []Conversation {
	out := make([]Conversation, 0, len(idx.byCounterparty))
	for _, conv := range idx.byCounterparty {
		out = append(out, cloneConversation(conv))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID > b.ID
		}
		return out[i].CounterpartyID < out[j].CounterpartyID
	})
	return out
}

// GlobalUnread sums unread counts across all conversations.
func (idx *Index) GlobalUnread() int {
	total := 0
	for _, conv := range idx.byCounterparty {
		total += conv.UnreadCount
	}
	return total
}

func cloneConversation(conv *Conversation) Conversation {
	out := Conversation{
		CounterpartyID: conv.CounterpartyID,
		Messages:       message.CloneSlice(conv.Messages),
		LastMessage:    message.Clone(conv.LastMessage),
		UnreadCount:    conv.UnreadCount,
	}
	if conv.Counterparty != nil {
		profile := *conv.Counterparty
		out.Counterparty = &profile
	}
	return out
}
