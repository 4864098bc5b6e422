// Package gateway defines the message fetch gateway contract the engine
// consumes, plus the HTTP and local SQLite implementations. The gateway
// owns the durable copy of messages and is the sole source of truth for
// read-state after a round trip.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/lodgeline/lodgeline/internal/message"
)

// Direction selects one of the two paginated feeds.
type Direction string

const (
	Inbox Direction = "inbox"
	Sent  Direction = "sent"
)

// Filters narrows a fetch. Zero values mean "no filter"; Page is 1-based.
type Filters struct {
	CounterpartyID string
	PropertyID     string
	Page           int
	Limit          int
}

// Page is one page of fetch results.
type Page struct {
	Messages []message.Message
	Total    int
	Page     int
	Limit    int
}

// Gateway is the remote message store contract.
type Gateway interface {
	// Fetch returns one page of the inbox or sent feed.
	Fetch(ctx context.Context, dir Direction, f Filters) (Page, error)
	// Send creates a message and returns the stored record.
	Send(ctx context.Context, in message.SendInput) (message.Message, error)
	// MarkMessageRead marks one message read; returns rows affected.
	MarkMessageRead(ctx context.Context, id string) (int, error)
	// MarkConversationRead marks every message from the counterparty
	// addressed to the caller as read; returns rows affected.
	MarkConversationRead(ctx context.Context, counterpartyID string) (int, error)
	// Delete removes a message. Missing targets map to ErrStaleWrite.
	Delete(ctx context.Context, id string) error
}

const defaultMaxPages = 50

// FetchAll drains a feed page by page up to maxPages (<=0 uses a cap of
// 50). Pagination stops once a short page or the reported total arrives.
func FetchAll(ctx context.Context, gw Gateway, dir Direction, f Filters, maxPages int) ([]message.Message, error) {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	out := make([]message.Message, 0, f.Limit)
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		f.Page = pageNum
		page, err := gw.Fetch(ctx, dir, f)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", dir, pageNum, err)
		}
		out = append(out, page.Messages...)
		if len(page.Messages) < f.Limit {
			break
		}
		if page.Total > 0 && len(out) >= page.Total {
			break
		}
	}
	return out, nil
}

// IsTransient reports whether an error should be retried on a later tick.
func IsTransient(err error) bool {
	return errors.Is(err, message.ErrTransient)
}

// IsStale reports whether a write raced a deletion and is moot.
func IsStale(err error) bool {
	return errors.Is(err, message.ErrStaleWrite)
}
