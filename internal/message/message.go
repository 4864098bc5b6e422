// Package message defines the wire-level message model shared by the
// gateway adapters and the conversation engine.
package message

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxContentSize caps a single message body.
const MaxContentSize = 64 * 1024

// Profile is a denormalized snapshot of a participant, carried on
// messages by the gateway. Only ID is guaranteed to be present.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Message is a single directed message. CreatedAt and ID are assigned
// once at creation; only IsRead/ReadAt mutate afterwards.
type Message struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Content     string     `json:"content"`
	PropertyID  string     `json:"propertyId,omitempty"`
	UnitID      string     `json:"unitId,omitempty"`
	Sender      *Profile   `json:"sender,omitempty"`
	Recipient   *Profile   `json:"recipient,omitempty"`
	IsRead      bool       `json:"isRead"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Counterparty returns the non-local participant of the message.
// Messages the local user is not party to violate the gateway contract.
func (m Message) Counterparty(localUserID string) (string, error) {
	switch localUserID {
	case "":
		return "", ErrInvalidState
	case m.SenderID:
		return m.RecipientID, nil
	case m.RecipientID:
		return m.SenderID, nil
	}
	return "", fmt.Errorf("%w: message %s is between %s and %s", ErrInvariantViolation, m.ID, m.SenderID, m.RecipientID)
}

// CounterpartyProfile returns the profile snapshot of the non-local
// participant, or nil if the message does not carry one.
func (m Message) CounterpartyProfile(localUserID string) *Profile {
	if m.SenderID == localUserID {
		return m.Recipient
	}
	return m.Sender
}

// UnreadFor reports whether the message counts as unread for the given
// user: addressed to them and not yet read.
func (m Message) UnreadFor(localUserID string) bool {
	return m.RecipientID == localUserID && !m.IsRead
}

// Less orders messages ascending by CreatedAt, breaking timestamp ties
// by lexicographic ID so equal-time messages sort deterministically.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort sorts messages in place using Less.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

// MergeReadState combines two records of the same message fetched from
// different feeds. Records must agree on everything except IsRead and
// ReadAt; the more recently updated read-state wins.
func MergeReadState(a, b Message) Message {
	if a.IsRead == b.IsRead {
		if readAtAfter(b.ReadAt, a.ReadAt) {
			return b
		}
		return a
	}
	// A read record always supersedes an unread one: reads never revert.
	if a.IsRead {
		return a
	}
	return b
}

func readAtAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// Dedupe collapses duplicate IDs (a message can legitimately appear in
// both the inbox and sent feeds), merging read-state per MergeReadState.
// Output order is unspecified.
func Dedupe(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]Message, len(msgs))
	order := make([]string, 0, len(msgs))
	for _, m := range msgs {
		prev, ok := byID[m.ID]
		if !ok {
			byID[m.ID] = m
			order = append(order, m.ID)
			continue
		}
		byID[m.ID] = MergeReadState(prev, m)
	}
	out := make([]Message, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// Clone returns a deep copy of the message.
func Clone(m Message) Message {
	out := m
	if m.Sender != nil {
		sender := *m.Sender
		out.Sender = &sender
	}
	if m.Recipient != nil {
		recipient := *m.Recipient
		out.Recipient = &recipient
	}
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		out.ReadAt = &readAt
	}
	return out
}

// CloneSlice deep-copies a message slice.
func CloneSlice(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = Clone(msgs[i])
	}
	return out
}

// SendInput is the payload for composing a new message.
type SendInput struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	PropertyID  string `json:"propertyId,omitempty"`
	UnitID      string `json:"unitId,omitempty"`
}

// Validate checks a send payload before it is handed to a gateway.
func (in SendInput) Validate() error {
	if strings.TrimSpace(in.RecipientID) == "" {
		return ErrInvalidRecipient
	}
	if strings.TrimSpace(in.Content) == "" {
		return ErrEmptyContent
	}
	if len(in.Content) > MaxContentSize {
		return ErrContentTooLarge
	}
	return nil
}
