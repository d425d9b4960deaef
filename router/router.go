package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/config"
	"github.com/loomwire/loomwire/ephemeral"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/pkg/msgworker"
	"github.com/loomwire/loomwire/tenant"
	"github.com/loomwire/loomwire/whatsapp"
)

// InboundMessage is one normalized webhook delivery.
type InboundMessage struct {
	From        string
	To          string
	Body        string
	MessageSid  string
	MediaURL    string
	MessageType string
}

// Outcome reports what the router did with a delivery, echoed in the
// webhook's 200 body.
type Outcome string

const (
	OutcomeBuffered  Outcome = "buffered"
	OutcomeFlushed   Outcome = "flushed"
	OutcomeDuplicate Outcome = "duplicate"
)

// Router coordinates the inbound spine. Turns is the seam to C8: the api
// package wires the in-process turn runner through it.
type Router struct {
	Resolver *tenant.Resolver
	Dedup    ephemeral.DedupStore
	Debounce ephemeral.DebounceBuffer
	Limiter  ephemeral.RateLimiter
	Pool     *msgworker.Pool
	Provider whatsapp.Provider
	Turns    TurnRunner
	Messages MessagePersister
	Cfg      config.RouterConfig

	mu      sync.Mutex
	pending map[string]*time.Timer
	flushWG sync.WaitGroup
}

// TurnRunner executes one combined user turn against the orchestrator and
// its tool surface, returning the assistant reply to send.
type TurnRunner interface {
	RunTurn(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, userText string, sourceMessageIDs []string) (assistantText string, err error)
}

func New(resolver *tenant.Resolver, dedup ephemeral.DedupStore, debounce ephemeral.DebounceBuffer, limiter ephemeral.RateLimiter, pool *msgworker.Pool, provider whatsapp.Provider, turns TurnRunner, messages MessagePersister, cfg config.RouterConfig) *Router {
	return &Router{
		Resolver: resolver,
		Dedup:    dedup,
		Debounce: debounce,
		Limiter:  limiter,
		Pool:     pool,
		Provider: provider,
		Turns:    turns,
		Messages: messages,
		Cfg:      cfg,
		pending:  make(map[string]*time.Timer),
	}
}

// HandleInbound runs the ingress sequence: normalize → resolve tenant
// → rate limit → dedup → persist → debounce. Flushes dispatch onto the
// sharded pool so turns of one conversation stay ordered.
func (r *Router) HandleInbound(ctx context.Context, msg InboundMessage) (Outcome, error) {
	from := tenant.NormalizePhone(msg.From)
	to := strings.TrimPrefix(tenant.NormalizePhone(msg.To), "whatsapp:")

	workspaceID, channelID, err := r.Resolver.ResolveChannel(ctx, to)
	if err != nil {
		return "", err
	}

	allowed, err := r.Limiter.Allow(ctx, workspaceID.String(), from, r.Cfg.RateLimitPerMin)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", &apperr.RateLimitedError{Msg: "message rate exceeded", RetryAfter: 60}
	}

	fresh, err := r.Dedup.MarkSeen(ctx, workspaceID.String(), msg.MessageSid)
	if err != nil {
		return "", err
	}
	if !fresh {
		return OutcomeDuplicate, nil
	}

	contactID, err := r.Resolver.UpsertContact(ctx, workspaceID, from)
	if err != nil {
		return "", err
	}
	conversationID, err := r.Resolver.ResolveOrOpenConversation(ctx, workspaceID, channelID, contactID)
	if err != nil {
		return "", err
	}
	tc := tenant.Context{WorkspaceID: workspaceID, ChannelID: channelID, ContactID: contactID}

	if err := r.Messages.PersistInbound(ctx, tc, conversationID, msg); err != nil {
		return "", err
	}

	window := time.Duration(r.Cfg.DebounceMs) * time.Millisecond
	buffered := ephemeral.BufferedMessage{
		ProviderMessageID: msg.MessageSid,
		Text:              msg.Body,
		ReceivedAt:        time.Now().UTC(),
	}
	buf, err := r.Debounce.Append(ctx, workspaceID.String(), from, buffered, window+time.Second, r.Cfg.DebounceMax)
	if err != nil {
		return "", err
	}

	// Two or more buffered messages flush immediately; a lone first message
	// waits out the delayed-flush window. Append already truncated the
	// buffer to the cap.
	if len(buf) >= 2 {
		r.cancelPending(workspaceID.String(), from)
		r.dispatchFlush(tc, conversationID, from)
		return OutcomeFlushed, nil
	}
	r.scheduleFlush(tc, conversationID, from, window)
	return OutcomeBuffered, nil
}

// MessagePersister is the persistence slice of the turn runner the ingress
// path needs before any flush happens.
type MessagePersister interface {
	PersistInbound(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, msg InboundMessage) error
}

func pendingKey(workspaceID, contact string) string { return workspaceID + "|" + contact }

func (r *Router) scheduleFlush(tc tenant.Context, conversationID uuid.UUID, contact string, window time.Duration) {
	key := pendingKey(tc.WorkspaceID.String(), contact)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.pending[key]; ok {
		prev.Stop()
	}
	r.pending[key] = time.AfterFunc(window, func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
		r.dispatchFlush(tc, conversationID, contact)
	})
}

func (r *Router) cancelPending(workspaceID, contact string) {
	key := pendingKey(workspaceID, contact)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.pending[key]; ok {
		t.Stop()
		delete(r.pending, key)
	}
}

// dispatchFlush hands the flush to the conversation's pool shard. The
// sharding key serializes flushes per (workspace, contact), which is the
// ordering guarantee.
func (r *Router) dispatchFlush(tc tenant.Context, conversationID uuid.UUID, contact string) {
	r.flushWG.Add(1)
	admitted := r.Pool.TryDispatch(msgworker.Job{
		WorkspaceID:     tc.WorkspaceID.String(),
		ConversationKey: contact,
		Handler: func(ctx context.Context) error {
			defer r.flushWG.Done()
			return r.flush(ctx, tc, conversationID, contact)
		},
	})
	if !admitted {
		r.flushWG.Done()
		logrus.WithFields(observability.Fields{
			"component": "router", "workspace": observability.WorkspaceHash(tc.WorkspaceID.String()),
		}).Warn("flush dropped under backpressure")
	}
}

// flush drains the debounce buffer, combines it into one synthetic turn,
// runs the orchestrator, and sends the reply.
func (r *Router) flush(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, contact string) error {
	buf, err := r.Debounce.Flush(ctx, tc.WorkspaceID.String(), contact)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	combined, sourceIDs := CombineMessages(buf)
	assistant, err := r.Turns.RunTurn(ctx, tc, conversationID, combined, sourceIDs)
	if err != nil {
		logrus.WithError(err).WithFields(observability.Fields{
			"component": "router", "workspace": observability.WorkspaceHash(tc.WorkspaceID.String()),
			"conversation": conversationID,
		}).Error("turn failed")
		return err
	}
	if assistant == "" {
		return nil
	}

	_, err = r.Provider.Send(ctx, "whatsapp:"+r.channelPhone(ctx, tc), contact, assistant)
	if err != nil {
		logrus.WithError(err).WithFields(observability.Fields{
			"component": "router", "workspace": observability.WorkspaceHash(tc.WorkspaceID.String()),
		}).Error("outbound send failed")
	}
	return err
}

func (r *Router) channelPhone(ctx context.Context, tc tenant.Context) string {
	phone, err := r.Resolver.ChannelPhone(ctx, tc.WorkspaceID, tc.ChannelID)
	if err != nil {
		return ""
	}
	return phone
}

// CombineMessages space-joins a drained buffer into the synthetic turn text
// and collects the source provider ids, following the combined-turn rule.
func CombineMessages(buf []ephemeral.BufferedMessage) (string, []string) {
	texts := make([]string, 0, len(buf))
	ids := make([]string, 0, len(buf))
	for _, m := range buf {
		if strings.TrimSpace(m.Text) != "" {
			texts = append(texts, strings.TrimSpace(m.Text))
		}
		ids = append(ids, m.ProviderMessageID)
	}
	return strings.Join(texts, " "), ids
}

// Shutdown cancels pending delayed flushes and waits for in-flight ones up
// to deadline, following the shutdown contract.
func (r *Router) Shutdown(deadline time.Duration) {
	r.mu.Lock()
	for key, t := range r.pending {
		t.Stop()
		delete(r.pending, key)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.flushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		logrus.Warn("[ROUTER] Shutdown deadline hit with flushes still in flight")
	}
}
