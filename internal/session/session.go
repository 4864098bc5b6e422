// Package session wires the gateway, aggregator, reconciler and pollers
// into one engine instance per logical user session. The session owns
// the in-memory conversation index exclusively; access is serialized by
// a single mutex, matching the cooperative tick model.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lodgeline/lodgeline/internal/convo"
	"github.com/lodgeline/lodgeline/internal/gateway"
	"github.com/lodgeline/lodgeline/internal/logging"
	"github.com/lodgeline/lodgeline/internal/message"
	"github.com/lodgeline/lodgeline/internal/poller"
	"github.com/lodgeline/lodgeline/internal/readstate"
)

// Options configures a Session.
type Options struct {
	// LocalUserID identifies the session owner. Required.
	LocalUserID string

	// PageSize and MaxPages bound feed pagination.
	PageSize int
	MaxPages int

	// ListInterval drives the conversation-list poller; ThreadInterval
	// the per-conversation poller (shorter, staleness is more visible).
	ListInterval   time.Duration
	ThreadInterval time.Duration

	// RetryAfter is the age past which an unconfirmed mark-read intent
	// gets its remote call reissued; confirmed intents also shield the
	// unread count from stale in-flight fetches for this long.
	// Defaults to ListInterval.
	RetryAfter time.Duration

	// MaxMarkReadAttempts bounds remote mark-read retries before the
	// failure is surfaced to error listeners as retryable.
	MaxMarkReadAttempts int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o *Options) fill() error {
	if o.LocalUserID == "" {
		return message.ErrInvalidState
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
	if o.ListInterval <= 0 {
		o.ListInterval = 30 * time.Second
	}
	if o.ThreadInterval <= 0 {
		o.ThreadInterval = 10 * time.Second
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = o.ListInterval
	}
	if o.MaxMarkReadAttempts <= 0 {
		o.MaxMarkReadAttempts = 5
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Session is the engine instance handed to the presentation layer.
type Session struct {
	gw   gateway.Gateway
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	rec         *readstate.Reconciler
	raw         []message.Message // last server union, pre-overlay
	optimistic  []message.Message // local sends not yet seen in a fetch
	idx         *convo.Index
	lastUpdated time.Time
	listeners   []func()
	errListener func(error)
	pollers     []*poller.Poller
	closed      bool
}

// New builds a session over the given gateway.
func New(gw gateway.Gateway, opts Options) (*Session, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if err := opts.fill(); err != nil {
		return nil, err
	}
	return &Session{
		gw:   gw,
		opts: opts,
		log:  logging.Component("session").With().Str("user_id", opts.LocalUserID).Logger(),
		rec:  readstate.New(opts.LocalUserID, opts.MaxMarkReadAttempts, opts.RetryAfter),
		idx:  convo.Empty(opts.LocalUserID),
	}, nil
}

// OnUpdate registers a callback invoked after every successful
// aggregation+reconciliation pass and after local optimistic mutations.
func (s *Session) OnUpdate(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// OnError registers a callback for retryable errors worth a user-visible
// retry affordance (repeated mark-read failures).
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.errListener = fn
	s.mu.Unlock()
}

// Conversations returns the current conversation list, most recent
// activity first.
func (s *Session) Conversations() []convo.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Conversations()
}

// Conversation returns one conversation by counterparty.
func (s *Session) Conversation(counterpartyID string) (convo.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Get(counterpartyID)
}

// GlobalUnreadCount returns the total unread count across conversations.
func (s *Session) GlobalUnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.GlobalUnread()
}

// LastUpdated reports when the last successful reconcile pass finished.
// Zero until the first successful refresh.
func (s *Session) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// PendingReads reports unconfirmed mark-read intents, for diagnostics.
func (s *Session) PendingReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Pending()
}

// Refresh runs one full fetch → aggregate → reconcile → notify pass.
// On failure the previous snapshot stays in place. Results arriving
// after cancellation or Close are discarded.
func (s *Session) Refresh(ctx context.Context) error {
	s.retryDueIntents(ctx)

	inbox, err := gateway.FetchAll(ctx, s.gw, gateway.Inbox, gateway.Filters{Limit: s.opts.PageSize}, s.opts.MaxPages)
	if err != nil {
		return err
	}
	sent, err := gateway.FetchAll(ctx, s.gw, gateway.Sent, gateway.Filters{Limit: s.opts.PageSize}, s.opts.MaxPages)
	if err != nil {
		return err
	}
	union := append(inbox, sent...)
	return s.apply(ctx, "", func([]message.Message) []message.Message { return union })
}

// RefreshConversation re-fetches a single counterparty's messages and
// splices them into the snapshot, leaving other conversations untouched.
func (s *Session) RefreshConversation(ctx context.Context, counterpartyID string) error {
	s.retryDueIntents(ctx)

	filters := gateway.Filters{CounterpartyID: counterpartyID, Limit: s.opts.PageSize}
	inbox, err := gateway.FetchAll(ctx, s.gw, gateway.Inbox, filters, s.opts.MaxPages)
	if err != nil {
		return err
	}
	sent, err := gateway.FetchAll(ctx, s.gw, gateway.Sent, filters, s.opts.MaxPages)
	if err != nil {
		return err
	}
	fresh := append(inbox, sent...)

	return s.apply(ctx, counterpartyID, func(raw []message.Message) []message.Message {
		kept := make([]message.Message, 0, len(raw))
		for _, m := range raw {
			cp, err := m.Counterparty(s.opts.LocalUserID)
			if err != nil || cp != counterpartyID {
				kept = append(kept, m)
			}
		}
		return append(kept, fresh...)
	})
}

// apply is the single writer of the session snapshot. mergeFn builds
// the next server union from the previous one inside the same critical
// section that swaps it in, so a refresh finishing in between cannot be
// overwritten by a union spliced from an older snapshot. counterpartyID
// scopes intent settlement for thread refreshes; empty means the union
// is a full-feed snapshot.
func (s *Session) apply(ctx context.Context, counterpartyID string, mergeFn func(raw []message.Message) []message.Message) error {
	s.mu.Lock()
	if err := s.discardLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	union := mergeFn(s.raw)

	// A send observed in the fetch no longer needs its optimistic copy.
	seen := make(map[string]struct{}, len(union))
	for _, m := range union {
		seen[m.ID] = struct{}{}
	}
	remaining := s.optimistic[:0]
	for _, m := range s.optimistic {
		if _, ok := seen[m.ID]; !ok {
			remaining = append(remaining, m)
		}
	}
	s.optimistic = remaining

	merged := append(message.CloneSlice(union), message.CloneSlice(s.optimistic)...)
	var settled []message.Message
	if counterpartyID != "" {
		settled = s.rec.SettleConversation(merged, s.opts.Now(), counterpartyID)
	} else {
		settled = s.rec.Settle(merged, s.opts.Now())
	}
	idx, err := convo.Aggregate(settled, s.opts.LocalUserID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("aggregate: %w", err)
	}

	s.raw = union
	s.idx = idx
	s.lastUpdated = s.opts.Now()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (s *Session) discardLocked(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// rebuildLocked recomputes the index from the cached snapshot plus
// optimistic state. The cached snapshot is not server truth, so intents
// are overlaid without being settled; only apply may confirm or drop
// them. Callers hold the mutex; the returned listeners are notified
// after unlock.
func (s *Session) rebuildLocked() []func() {
	merged := append(message.CloneSlice(s.raw), message.CloneSlice(s.optimistic)...)
	idx, err := convo.Aggregate(s.rec.Overlay(merged), s.opts.LocalUserID)
	if err != nil {
		// Snapshot came from a pass that already validated invariants.
		s.log.Error().Err(err).Msg("rebuild failed, keeping previous index")
		return nil
	}
	s.idx = idx
	return append([]func(){}, s.listeners...)
}

// SendMessage optimistically appends the message, then performs the
// remote send. On failure the optimistic message is rolled back and the
// error returned so the presentation layer can restore the draft.
func (s *Session) SendMessage(ctx context.Context, in message.SendInput) (message.Message, error) {
	if err := in.Validate(); err != nil {
		return message.Message{}, err
	}

	local := message.Message{
		ID:          "local-" + uuid.NewString(),
		SenderID:    s.opts.LocalUserID,
		RecipientID: in.RecipientID,
		Content:     in.Content,
		PropertyID:  in.PropertyID,
		UnitID:      in.UnitID,
		CreatedAt:   s.opts.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return message.Message{}, fmt.Errorf("session closed")
	}
	s.optimistic = append(s.optimistic, local)
	listeners := s.rebuildLocked()
	s.mu.Unlock()
	notify(listeners)

	sent, err := s.gw.Send(ctx, in)

	s.mu.Lock()
	s.removeOptimisticLocked(local.ID)
	if err == nil {
		// Keep the server record until a fetch includes it (dedup by id).
		s.optimistic = append(s.optimistic, sent)
	}
	listeners = s.rebuildLocked()
	s.mu.Unlock()
	notify(listeners)

	if err != nil {
		return message.Message{}, fmt.Errorf("send message: %w", err)
	}
	return sent, nil
}

func (s *Session) removeOptimisticLocked(id string) {
	kept := s.optimistic[:0]
	for _, m := range s.optimistic {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.optimistic = kept
}

// MarkMessageRead flips one message read locally with zero latency and
// issues the remote call in the background. Remote failures keep the
// optimistic state; the intent is retried on later ticks.
func (s *Session) MarkMessageRead(ctx context.Context, id string) {
	s.mu.Lock()
	scope := s.rec.MarkMessageRead(id, s.opts.Now())
	listeners := s.rebuildLocked()
	s.mu.Unlock()
	notify(listeners)

	go s.markRemote(ctx, scope)
}

// MarkConversationRead marks every unread message from the counterparty
// as read, optimistically, then remotely.
func (s *Session) MarkConversationRead(ctx context.Context, counterpartyID string) {
	s.mu.Lock()
	scope := s.rec.MarkConversationRead(counterpartyID, "", s.opts.Now())
	listeners := s.rebuildLocked()
	s.mu.Unlock()
	notify(listeners)

	go s.markRemote(ctx, scope)
}

func (s *Session) markRemote(ctx context.Context, scope readstate.Scope) {
	var err error
	if scope.MessageID != "" {
		_, err = s.gw.MarkMessageRead(ctx, scope.MessageID)
	} else {
		_, err = s.gw.MarkConversationRead(ctx, scope.CounterpartyID)
	}
	if err == nil || gateway.IsStale(err) {
		// Confirmation (or mootness) arrives with the next snapshot.
		return
	}

	s.mu.Lock()
	surfaced := s.rec.Fail(scope)
	errListener := s.errListener
	s.mu.Unlock()

	// Transient failures are the expected retry path; anything else is
	// worth a louder look.
	evt := s.log.Warn()
	if gateway.IsTransient(err) {
		evt = s.log.Debug()
	}
	evt.Err(err).Stringer("scope", scope).Msg("remote mark-read failed, will retry")
	if surfaced != nil && errListener != nil {
		errListener(surfaced)
	}
}

// retryDueIntents reissues remote markRead calls for intents older than
// the retry window. Runs at the start of each poll tick.
func (s *Session) retryDueIntents(ctx context.Context) {
	s.mu.Lock()
	due := s.rec.Due(s.opts.Now(), s.opts.RetryAfter)
	s.mu.Unlock()

	for _, intent := range due {
		s.markRemote(ctx, intent.Scope)
	}
}

// DeleteMessage removes a message remotely and from the local snapshot.
// A target already gone on the server is treated as success.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	err := s.gw.Delete(ctx, id)
	if err != nil && !gateway.IsStale(err) {
		return fmt.Errorf("delete message: %w", err)
	}

	s.mu.Lock()
	kept := s.raw[:0]
	for _, m := range s.raw {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.raw = kept
	s.removeOptimisticLocked(id)
	listeners := s.rebuildLocked()
	s.mu.Unlock()
	notify(listeners)
	return nil
}

// StartListPolling launches the conversation-list refresh loop and
// returns its handle. The caller stops it when the view unmounts.
func (s *Session) StartListPolling() *poller.Poller {
	p := poller.New("conversations", s.opts.ListInterval, s.Refresh)
	s.track(p)
	p.Start()
	return p
}

// StartThreadPolling launches a single-conversation refresh loop at the
// shorter per-thread interval, independent of the list poller.
func (s *Session) StartThreadPolling(counterpartyID string) *poller.Poller {
	p := poller.New("thread:"+counterpartyID, s.opts.ThreadInterval, func(ctx context.Context) error {
		return s.RefreshConversation(ctx, counterpartyID)
	})
	s.track(p)
	p.Start()
	return p
}

func (s *Session) track(p *poller.Poller) {
	s.mu.Lock()
	s.pollers = append(s.pollers, p)
	s.mu.Unlock()
}

// Close stops all pollers and retires the session. In-flight ticks
// resolving after Close do not mutate state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pollers := s.pollers
	s.pollers = nil
	s.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
