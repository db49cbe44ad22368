package pubsub

import (
	"net/http"

	"erebus/pubsub/internal/config"
	"erebus/pubsub/internal/grant"
)

// TokenProvider authenticates the caller to AuthBaseURL when requesting a
// channel grant. It is distinct from the grant token itself.
type TokenProvider = config.TokenProvider

// GrantCache abstracts the process-wide grant cache layer a Config may
// supply, e.g. a platform key-value store under keys CacheKeyToken and
// CacheKeyTimestamp.
type GrantCache = grant.Cache

// CacheKeyToken and CacheKeyTimestamp are the well-known keys a GrantCache
// implementation is written under.
const (
	CacheKeyToken     = grant.CacheKeyToken
	CacheKeyTimestamp = grant.CacheKeyTimestamp
)

// Config is the configuration record a caller builds once and passes to
// New. The core reads no environment variables: every endpoint, timeout,
// and hook arrives through this value.
type Config struct {
	// WSUrl is the WebSocket gateway endpoint dialed on connect().
	WSUrl string
	// AuthBaseURL is the base URL the grant endpoint is posted to.
	AuthBaseURL string
	// HTTPBaseURL is the base URL history requests are issued against.
	// Optional: defaults to AuthBaseURL.
	HTTPBaseURL string
	// TokenProvider authenticates the caller to AuthBaseURL. Required.
	TokenProvider TokenProvider
	// GrantCacheLayer is the grant cache. Optional: when nil, a new
	// in-memory cache is created for this client alone.
	GrantCacheLayer GrantCache
	// CacheGrant is an optional write-through hook invoked with (channel,
	// token) whenever a fresh grant is fetched.
	CacheGrant func(channel, token string)
	// HeartbeatMs is the heartbeat interval in milliseconds. Optional.
	HeartbeatMs int
	// Debug enables verbose structured logging when true.
	Debug bool
	// ConnectionTimeoutMs bounds connect()'s transport handshake. Optional.
	ConnectionTimeoutMs int
	// SubscriptionTimeoutMs bounds subscribe/unsubscribe ack waits. Optional.
	SubscriptionTimeoutMs int
	// EnableCaching turns on the optional local history page cache.
	EnableCaching bool
	// HistoryCacheDir is the directory backing the history page cache,
	// used only when EnableCaching is true. Optional: defaults to a
	// temporary directory under os.TempDir().
	HistoryCacheDir string
	// HTTPClient is the client used for grant and history requests.
	// Optional: http.DefaultClient is used when nil.
	HTTPClient *http.Client
	// LogFilePath, when non-empty, adds a rotating, gzip-compressed
	// on-disk log sink alongside stdout. Optional: logging goes to
	// stdout only when empty.
	LogFilePath string
	// LogMaxSizeMB bounds the rotating log file's size before it rolls
	// over. Optional: defaults to 50MB.
	LogMaxSizeMB int
	// LogMaxBackups bounds how many rotated, gzip-compressed backups of
	// the log file are kept. Optional.
	LogMaxBackups int
}

func (c Config) toInternal() config.Config {
	return config.Config{
		WSUrl:                 c.WSUrl,
		AuthBaseURL:           c.AuthBaseURL,
		HTTPBaseURL:           c.HTTPBaseURL,
		TokenProvider:         c.TokenProvider,
		GrantCacheLayer:       c.GrantCacheLayer,
		CacheGrant:            c.CacheGrant,
		HeartbeatMs:           c.HeartbeatMs,
		Debug:                 c.Debug,
		ConnectionTimeoutMs:   c.ConnectionTimeoutMs,
		SubscriptionTimeoutMs: c.SubscriptionTimeoutMs,
		EnableCaching:         c.EnableCaching,
		HTTPClient:            c.HTTPClient,
		LogFilePath:           c.LogFilePath,
		LogMaxSizeMB:          c.LogMaxSizeMB,
		LogMaxBackups:         c.LogMaxBackups,
	}
}
