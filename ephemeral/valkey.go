package ephemeral

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Client is the Valkey-backed Store: a thin wrapper over valkey-go exposing
// exactly the SetNX/Incr/Publish-Subscribe surface the namespaces need.
type Client struct {
	rdb valkey.Client
}

func NewClient(addr string) (*Client, error) {
	rdb, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() { c.rdb.Close() }

func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := c.rdb.B().Set().Key(key).Value(string(value)).Nx().Ex(ttl).Build()
	resp := c.rdb.Do(ctx, cmd)
	if resp.Error() != nil {
		if valkey.IsValkeyNil(resp.Error()) {
			return false, nil
		}
		return false, resp.Error()
	}
	return true, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.rdb.B().Get().Key(key).Build()
	resp := c.rdb.Do(ctx, cmd)
	if resp.Error() != nil {
		if valkey.IsValkeyNil(resp.Error()) {
			return nil, false, nil
		}
		return nil, false, resp.Error()
	}
	s, err := resp.ToString()
	if err != nil {
		return nil, false, err
	}
	return []byte(s), true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := c.rdb.B().Set().Key(key).Value(string(value)).Ex(ttl).Build()
	return c.rdb.Do(ctx, cmd).Error()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	cmd := c.rdb.B().Del().Key(key).Build()
	return c.rdb.Do(ctx, cmd).Error()
}

func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	cmd := c.rdb.B().Incr().Key(key).Build()
	resp := c.rdb.Do(ctx, cmd)
	if resp.Error() != nil {
		return 0, resp.Error()
	}
	n, err := resp.ToInt64()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		expireCmd := c.rdb.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build()
		_ = c.rdb.Do(ctx, expireCmd).Error()
	}
	return n, nil
}

func (c *Client) Publish(ctx context.Context, channel string, message []byte) error {
	cmd := c.rdb.B().Publish().Channel(channel).Message(string(message)).Build()
	return c.rdb.Do(ctx, cmd).Error()
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	out := make(chan []byte, 16)
	dedicated, cancel := c.rdb.Dedicate()
	wait := dedicated.SetPubSubHooks(valkey.PubSubHooks{
		OnMessage: func(m valkey.PubSubMessage) {
			select {
			case out <- []byte(m.Message):
			default:
			}
		},
	})
	if err := dedicated.Do(ctx, c.rdb.B().Subscribe().Channel(channel).Build()).Error(); err != nil {
		cancel()
		return nil, nil, err
	}
	stop := func() {
		cancel()
		// Close only after the hook loop has drained, so OnMessage never
		// races a closed channel.
		go func() {
			<-wait
			close(out)
		}()
	}
	return out, stop, nil
}
