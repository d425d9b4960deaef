package ephemeral

import (
	"context"
	"encoding/json"
	"time"
)

// BufferedMessage is one inbound message held in a debounce buffer pending
// flush.
type BufferedMessage struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Text               string    `json:"text"`
	ReceivedAt         time.Time `json:"received_at"`
}

// DebounceBuffer is the capability interface backing the
// router's per-(workspace,contact) aggregation window.
type DebounceBuffer interface {
	// Append adds msg to the buffer, truncating to the most recent maxLen
	// entries (0 means unbounded), and returns the buffer as persisted.
	Append(ctx context.Context, workspaceID, contact string, msg BufferedMessage, windowTTL time.Duration, maxLen int) ([]BufferedMessage, error)
	// Flush atomically reads and clears the buffer, returning what was held.
	Flush(ctx context.Context, workspaceID, contact string) ([]BufferedMessage, error)
}

type debounceBuffer struct{ s Store }

func NewDebounceBuffer(s Store) DebounceBuffer { return &debounceBuffer{s: s} }

func debounceKey(workspaceID, contact string) string {
	return "debounce:" + workspaceID + ":" + contact
}

func (d *debounceBuffer) Append(ctx context.Context, workspaceID, contact string, msg BufferedMessage, windowTTL time.Duration, maxLen int) ([]BufferedMessage, error) {
	key := debounceKey(workspaceID, contact)
	raw, ok, err := d.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var buf []BufferedMessage
	if ok {
		if err := json.Unmarshal(raw, &buf); err != nil {
			return nil, err
		}
	}
	buf = append(buf, msg)
	// The cap bounds what a burst can accumulate: keep the most recent
	// entries, drop the oldest.
	if maxLen > 0 && len(buf) > maxLen {
		buf = buf[len(buf)-maxLen:]
	}
	encoded, err := json.Marshal(buf)
	if err != nil {
		return nil, err
	}
	if err := d.s.Set(ctx, key, encoded, windowTTL); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *debounceBuffer) Flush(ctx context.Context, workspaceID, contact string) ([]BufferedMessage, error) {
	key := debounceKey(workspaceID, contact)
	raw, ok, err := d.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := d.s.Delete(ctx, key); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var buf []BufferedMessage
	if err := json.Unmarshal(raw, &buf); err != nil {
		return nil, err
	}
	return buf, nil
}
