// Package pubsub is the core of a real-time pub/sub client library: the
// connection lifecycle state machine, the wire envelope codec, the
// subscription/publish/acknowledgement correlation machinery, the
// heartbeat and reconnection policy, grant token provisioning and caching,
// duplicate suppression, presence dispatch, and the typed façade. It is a
// client; it defines no server-side broker behaviour.
package pubsub

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"erebus/pubsub/internal/ack"
	"erebus/pubsub/internal/backoff"
	"erebus/pubsub/internal/clientid"
	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/conn"
	"erebus/pubsub/internal/config"
	"erebus/pubsub/internal/debounce"
	"erebus/pubsub/internal/dispatch"
	"erebus/pubsub/internal/grant"
	"erebus/pubsub/internal/historycache"
	"erebus/pubsub/internal/logging"
	"erebus/pubsub/internal/presence"
	"erebus/pubsub/internal/state"
	"erebus/pubsub/internal/subscription"
)

const debounceWindow = time.Second

// historyCacheSweepInterval, historyCacheMaxEntries and historyCacheMaxAge bound the on-disk
// history page cache when EnableCaching is set: without a retention sweep
// Cache.Put accumulates one file per distinct (topic,cursor,limit,direction)
// forever.
const (
	historyCacheSweepInterval = 10 * time.Minute
	historyCacheMaxEntries    = 500
	historyCacheMaxAge        = 24 * time.Hour
)

// Client is the public pub/sub client: it orchestrates the Connection
// Manager, Ack Manager, Subscription Manager, Message Processor, Presence
// Dispatcher, and State Manager behind a small synchronous-looking API.
type Client struct {
	cfg   config.Normalized
	log   *logging.Logger
	store *state.Manager

	acks    *ack.Manager
	subs    *subscription.Manager
	proc    *dispatch.Processor
	present *presence.Dispatcher
	grants  *grant.Provider
	connMgr *conn.Manager

	connectDebounce *debounce.Window

	history            *historyClient
	cacheCleanerCancel context.CancelFunc
}

// New constructs a Client from cfg. It does not dial; call JoinChannel then
// Connect to open the transport.
func New(cfg Config) (*Client, error) {
	normalized, err := config.Normalize(cfg.toInternal())
	if err != nil {
		return nil, err
	}

	log, logErr := logging.New(logging.Options{
		Level:      logLevel(normalized.Debug).String(),
		Path:       normalized.LogFilePath,
		MaxSizeMB:  normalized.LogMaxSizeMB,
		MaxBackups: normalized.LogMaxBackups,
	})
	if logErr != nil {
		log = logging.L()
	}

	store := state.New(0)
	acks := ack.New()
	proc := dispatch.New(store, log)
	present := presence.New(store, log)

	grants := grant.New(normalized.AuthBaseURL, normalized.GrantCacheLayer, normalized.CacheGrant)
	grants.HTTPClient = normalized.HTTPClient
	grants.BearerToken = func(ctx context.Context) (string, error) { return normalized.TokenProvider(ctx) }

	c := &Client{
		cfg:             normalized,
		log:             log,
		store:           store,
		acks:            acks,
		proc:            proc,
		present:         present,
		grants:          grants,
		connectDebounce: debounce.New(debounceWindow, nil),
	}

	c.connMgr = conn.New(conn.Config{
		WSUrl:          normalized.WSUrl,
		Grants:         grants,
		Backoff:        backoff.New(),
		Log:            log,
		ConnectTimeout: normalized.ConnectionTimeout,
		Heartbeat:      normalized.Heartbeat,
		Callbacks: conn.Callbacks{
			OnPublish:  proc.Process,
			OnAck:      c.onAckEnvelope,
			OnPresence: present.Dispatch,
			OnOpen:     c.onOpen,
			OnStateChange: func(s conn.State) {
				store.SetConnectionState(state.ConnectionState(s))
			},
		},
	})

	c.subs = subscription.New(store, acks, c.connMgr, clientid.New)

	if normalized.EnableCaching {
		dir := cfg.HistoryCacheDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "erebus-pubsub-history-cache")
		}
		if cache, cacheErr := historycache.New(dir); cacheErr == nil {
			c.history = newHistoryClient(normalized, grants, cache)

			cleaner := historycache.NewCleaner(dir, historycache.RetentionPolicy{
				MaxEntries: historyCacheMaxEntries,
				MaxAge:     historyCacheMaxAge,
			}, log)
			cleanerCtx, cancel := context.WithCancel(context.Background())
			c.cacheCleanerCancel = cancel
			go cleaner.Run(cleanerCtx, historyCacheSweepInterval)
		} else {
			log.Warn("pubsub: history cache unavailable, continuing without it", logging.Error(cacheErr))
			c.history = newHistoryClient(normalized, grants, nil)
		}
	} else {
		c.history = newHistoryClient(normalized, grants, nil)
	}

	return c, nil
}

func logLevel(debug bool) logging.Level {
	if debug {
		return logging.DebugLevel
	}
	return logging.InfoLevel
}

func (c *Client) onAckEnvelope(env *codec.Envelope) {
	if env.Ack == nil {
		return
	}
	c.acks.ResolveAck(env.AckClientMsgID, env.Ack.Result)
}

func (c *Client) onOpen() {
	c.subs.Resubscribe(c.cfg.SubscriptionTimeout)
}

// JoinChannel binds the client to channel name. Idempotent: joining the
// same channel again is a no-op.
func (c *Client) JoinChannel(name string) error {
	if name == "" {
		return invalidArg("channel", "must not be empty")
	}
	c.store.SetChannel(name)
	c.connMgr.SetChannel(name)
	return nil
}

// Connect dials the transport and blocks until it is open or the timeout
// elapses. A timeout of zero uses the configured default.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	if c.store.Channel() == "" {
		return &NotJoinedError{Op: "connect"}
	}
	if timeout <= 0 {
		timeout = c.cfg.ConnectionTimeout
	}

	return c.connectDebounce.Do("connect", func() error {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.connMgr.Open(dialCtx); err != nil {
			if grantErr, ok := err.(*grant.AuthError); ok {
				return &AuthError{Status: grantErr.Status, Body: grantErr.Body}
			}
			return &TimeoutError{Op: "connect"}
		}
		return nil
	})
}

// Subscribe registers handler for topic and transmits a subscribe frame.
// onAck, if non-nil, is invoked exactly once with the server's response (or
// a synthesized timeout/cancellation).
func (c *Client) Subscribe(topic string, handler MessageHandler, onAck AckCallback, timeout time.Duration, opts SubscribeOptions) (HandlerID, error) {
	if c.store.Channel() == "" {
		return 0, &NotJoinedError{Op: "subscribe"}
	}
	if topic == "" {
		return 0, invalidArg("topic", "must not be empty")
	}
	if handler == nil {
		return 0, invalidArg("handler", "must not be nil")
	}

	// Subscribe registers a new handler on every call, so it is never
	// debounced: coalescing it with a prior in-flight call would silently
	// drop the handler registration for this call.
	return c.subs.Subscribe(topic, handler, onAck, timeout, subscription.Options{StreamOldMessages: opts.StreamOldMessages})
}

// Unsubscribe clears topic's handler set and transmits an unsubscribe frame.
func (c *Client) Unsubscribe(topic string, onAck AckCallback, timeout time.Duration) error {
	if topic == "" {
		return invalidArg("topic", "must not be empty")
	}
	return c.subs.Unsubscribe(topic, onAck, timeout)
}

// WaitForSubscriptionReady blocks until topic reaches Subscribed or
// SubError, ctx is cancelled, or timeout elapses.
func (c *Client) WaitForSubscriptionReady(ctx context.Context, topic string, timeout time.Duration) error {
	return c.store.WaitForSubscriptionReady(ctx, topic, timeout)
}

// Publish fire-and-forgets body to topic, returning the generated
// clientMsgId. The server's ack, if any, is discarded.
func (c *Client) Publish(topic, body string) (string, error) {
	return c.publish(topic, body, nil, 0)
}

// PublishWithAck publishes body to topic and invokes onAck exactly once
// with the server's success/error/timeout outcome.
func (c *Client) PublishWithAck(topic, body string, onAck AckCallback, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return c.publish(topic, body, onAck, timeout)
}

func (c *Client) publish(topic, body string, onAck AckCallback, timeout time.Duration) (string, error) {
	if c.store.Channel() == "" {
		return "", &NotJoinedError{Op: "publish"}
	}
	if topic == "" {
		return "", invalidArg("topic", "must not be empty")
	}

	clientMsgID := clientid.New()
	if timeout > 0 {
		c.acks.Register(clientMsgID, ack.KindPublish, topic, timeout, onAck)
	}

	err := c.connMgr.Send(&codec.Envelope{
		Type: codec.PacketPublish,
		Publish: &codec.MessageBody{
			Topic:           topic,
			Payload:         body,
			ClientMsgID:     clientMsgID,
			ClientPublishTS: time.Now().UnixMilli(),
		},
	})
	if err == conn.ErrBackpressure {
		return "", &BackpressureError{Capacity: 1024}
	}
	return clientMsgID, err
}

// OnPresence registers handler for topic's presence events, returning an id
// usable with OffPresence.
func (c *Client) OnPresence(topic string, handler PresenceHandler) (HandlerID, error) {
	if topic == "" {
		return 0, invalidArg("topic", "must not be empty")
	}
	if handler == nil {
		return 0, invalidArg("handler", "must not be nil")
	}
	return c.store.AddPresenceHandler(topic, handler), nil
}

// OffPresence removes the presence handler registered under id for topic.
func (c *Client) OffPresence(topic string, id HandlerID) error {
	if topic == "" {
		return invalidArg("topic", "must not be empty")
	}
	c.store.RemovePresenceHandler(topic, id)
	return nil
}

// ClearPresenceHandlers empties topic's presence handler set.
func (c *Client) ClearPresenceHandlers(topic string) error {
	if topic == "" {
		return invalidArg("topic", "must not be empty")
	}
	c.store.ClearPresenceHandlers(topic)
	return nil
}

// Snapshot returns an immutable copy of the client's aggregate state.
func (c *Client) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// OnChange registers fn to be invoked after every coherent state mutation,
// returning a cancel function.
func (c *Client) OnChange(fn func(Snapshot)) func() {
	return c.store.OnChange(fn)
}

// GetHistory fetches one page of historical messages for topic.
func (c *Client) GetHistory(ctx context.Context, topic string, opts HistoryOptions) (HistoryPage, error) {
	channel := c.store.Channel()
	if channel == "" {
		return HistoryPage{}, &NotJoinedError{Op: "getHistory"}
	}
	if topic == "" {
		return HistoryPage{}, invalidArg("topic", "must not be empty")
	}
	return c.history.fetch(ctx, channel, topic, opts)
}

// CreateHistoryIterator returns a function producing successive history
// pages for topic until the server reports no further cursor, after which
// every subsequent call returns (HistoryPage{}, false).
func (c *Client) CreateHistoryIterator(topic string, opts HistoryOptions) func(ctx context.Context) (HistoryPage, bool, error) {
	channel := c.store.Channel()
	cursor := opts.Cursor
	exhausted := false

	return func(ctx context.Context) (HistoryPage, bool, error) {
		if exhausted {
			return HistoryPage{}, false, nil
		}
		pageOpts := opts
		pageOpts.Cursor = cursor
		page, err := c.history.fetch(ctx, channel, topic, pageOpts)
		if err != nil {
			return HistoryPage{}, false, err
		}
		if page.NextCursor == nil {
			exhausted = true
		} else {
			cursor = *page.NextCursor
		}
		return page, !exhausted, nil
	}
}

// Close transitions the connection to closed, failing every pending
// operation with CANCELLED.
func (c *Client) Close() error {
	c.acks.CancelAll()
	if c.cacheCleanerCancel != nil {
		c.cacheCleanerCancel()
	}
	return c.connMgr.Close()
}
