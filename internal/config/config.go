// Package config defines the configuration record accepted by the pub/sub
// client core. Unlike the broker this package was adapted from, it reads no
// environment variables: every endpoint, timeout, and hook arrives through
// the Config value the caller constructs.
package config

import (
	"context"
	"net/http"
	"time"

	"erebus/pubsub/internal/grant"
)

// DefaultHeartbeat is the interval between heartbeat frames on an open
// connection, absent an explicit override.
const DefaultHeartbeat = 25 * time.Second

// DefaultConnectionTimeout bounds how long open() waits for the transport
// handshake to complete before treating the attempt as failed.
const DefaultConnectionTimeout = 10 * time.Second

// DefaultSubscriptionTimeout bounds how long subscribe()/unsubscribe() wait
// for their ack before the caller's promise resolves with a Timeout error.
const DefaultSubscriptionTimeout = 10 * time.Second

// TokenProvider supplies the bearer credential attached to the grant
// request, authenticating the caller to authBaseUrl. It is distinct from
// the grant token the provider returns, which authorizes the channel itself.
type TokenProvider func(ctx context.Context) (string, error)

// Config is the record a caller builds once and passes to New. Fields
// marked optional take the package defaults when zero-valued.
type Config struct {
	// WSUrl is the WebSocket gateway endpoint the Connection Manager dials.
	WSUrl string
	// AuthBaseURL is the base URL the Grant Provider posts /grant requests to.
	AuthBaseURL string
	// HTTPBaseURL is the base URL the History Iterator issues GETs against.
	// Optional: defaults to AuthBaseURL when empty.
	HTTPBaseURL string
	// TokenProvider authenticates the caller to AuthBaseURL. Required.
	TokenProvider TokenProvider
	// GrantCacheLayer is the cache the Grant Provider reads and writes
	// through. Optional: when nil, Normalize creates a new in-memory cache,
	// so each client gets its own.
	GrantCacheLayer grant.Cache
	// CacheGrant is an optional write-through hook invoked with (channel,
	// token) whenever a fresh grant is fetched.
	CacheGrant func(channel, token string)
	// HeartbeatMs is the heartbeat interval in milliseconds. Optional.
	HeartbeatMs int
	// Debug enables verbose structured logging when true.
	Debug bool
	// ConnectionTimeoutMs bounds the transport handshake. Optional.
	ConnectionTimeoutMs int
	// SubscriptionTimeoutMs bounds subscribe/unsubscribe ack waits. Optional.
	SubscriptionTimeoutMs int
	// EnableCaching turns on the optional local history page cache.
	EnableCaching bool
	// HTTPClient is the client used for grant and history requests.
	// Optional: http.DefaultClient is used when nil.
	HTTPClient *http.Client
	// LogFilePath, when non-empty, adds a rotating on-disk sink to the
	// logger in addition to stdout. Optional.
	LogFilePath string
	// LogMaxSizeMB bounds the rotating log file's size before it rolls
	// over. Optional: defaults to 50MB.
	LogMaxSizeMB int
	// LogMaxBackups bounds how many rotated, gzip-compressed backups are
	// kept. Optional.
	LogMaxBackups int
}

// Normalized carries Config after defaults have been applied and its
// duration fields converted to time.Duration.
type Normalized struct {
	WSUrl               string
	AuthBaseURL         string
	HTTPBaseURL         string
	TokenProvider       TokenProvider
	GrantCacheLayer     grant.Cache
	CacheGrant          func(channel, token string)
	Heartbeat           time.Duration
	Debug               bool
	ConnectionTimeout   time.Duration
	SubscriptionTimeout time.Duration
	EnableCaching       bool
	HTTPClient          *http.Client
	LogFilePath         string
	LogMaxSizeMB        int
	LogMaxBackups       int
}

// Validate reports an InvalidArg-class error for every field Normalize
// cannot supply a safe default for.
func (c Config) Validate() error {
	if c.WSUrl == "" {
		return invalidArg("wsUrl", "must not be empty")
	}
	if c.AuthBaseURL == "" {
		return invalidArg("authBaseUrl", "must not be empty")
	}
	if c.TokenProvider == nil {
		return invalidArg("tokenProvider", "must not be nil")
	}
	return nil
}

// Normalize validates c and applies defaults, returning the record every
// other internal package consumes.
func Normalize(c Config) (Normalized, error) {
	if err := c.Validate(); err != nil {
		return Normalized{}, err
	}

	httpBase := c.HTTPBaseURL
	if httpBase == "" {
		httpBase = c.AuthBaseURL
	}

	heartbeat := DefaultHeartbeat
	if c.HeartbeatMs > 0 {
		heartbeat = time.Duration(c.HeartbeatMs) * time.Millisecond
	}

	connTimeout := DefaultConnectionTimeout
	if c.ConnectionTimeoutMs > 0 {
		connTimeout = time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
	}

	subTimeout := DefaultSubscriptionTimeout
	if c.SubscriptionTimeoutMs > 0 {
		subTimeout = time.Duration(c.SubscriptionTimeoutMs) * time.Millisecond
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	cache := c.GrantCacheLayer
	if cache == nil {
		cache = grant.NewMemoryCache()
	}

	return Normalized{
		WSUrl:               c.WSUrl,
		AuthBaseURL:         c.AuthBaseURL,
		HTTPBaseURL:         httpBase,
		TokenProvider:       c.TokenProvider,
		GrantCacheLayer:     cache,
		CacheGrant:          c.CacheGrant,
		Heartbeat:           heartbeat,
		Debug:               c.Debug,
		ConnectionTimeout:   connTimeout,
		SubscriptionTimeout: subTimeout,
		EnableCaching:       c.EnableCaching,
		HTTPClient:          httpClient,
		LogFilePath:         c.LogFilePath,
		LogMaxSizeMB:        c.LogMaxSizeMB,
		LogMaxBackups:       c.LogMaxBackups,
	}, nil
}

type invalidArgError struct {
	arg    string
	reason string
}

func (e *invalidArgError) Error() string {
	return "config: invalid " + e.arg + ": " + e.reason
}

func invalidArg(arg, reason string) error {
	return &invalidArgError{arg: arg, reason: reason}
}
