package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/config"
	"erebus/pubsub/internal/grant"
	"erebus/pubsub/internal/historycache"
)

// HistoryDirection selects pagination order for GetHistory.
type HistoryDirection string

// History pagination directions.
const (
	HistoryForward  HistoryDirection = "forward"
	HistoryBackward HistoryDirection = "backward"
)

// HistoryOptions configures GetHistory and CreateHistoryIterator.
type HistoryOptions struct {
	Cursor    string
	Limit     int
	Direction HistoryDirection
}

// HistoryItem is one historical message, identical in shape to an inbound
// publish envelope's MessageBody.
type HistoryItem = codec.MessageBody

// HistoryPage is the decoded response of one getHistory call.
type HistoryPage struct {
	Items      []HistoryItem
	NextCursor *string
}

type historyClient struct {
	httpBaseURL string
	httpClient  *http.Client
	grants      *grant.Provider
	cache       *historycache.Cache
}

func newHistoryClient(cfg config.Normalized, grants *grant.Provider, cache *historycache.Cache) *historyClient {
	return &historyClient{
		httpBaseURL: cfg.HTTPBaseURL,
		httpClient:  cfg.HTTPClient,
		grants:      grants,
		cache:       cache,
	}
}

func (h *historyClient) fetch(ctx context.Context, channel, topic string, opts HistoryOptions) (HistoryPage, error) {
	cacheKey := historycache.Key{Topic: topic, Cursor: opts.Cursor, Limit: opts.Limit, Direction: string(opts.Direction)}
	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			return fromCachePage(cached)
		}
	}

	token, err := h.grants.Fetch(ctx, channel)
	if err != nil {
		if authErr, ok := err.(*grant.AuthError); ok {
			return HistoryPage{}, &AuthError{Status: authErr.Status, Body: authErr.Body}
		}
		return HistoryPage{}, err
	}

	q := url.Values{}
	q.Set("grant", token)
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Direction != "" {
		q.Set("direction", string(opts.Direction))
	}

	reqURL := fmt.Sprintf("%s/v1/pubsub/topics/%s/history?%s", h.httpBaseURL, url.PathEscape(topic), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return HistoryPage{}, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("pubsub: history request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return HistoryPage{}, fmt.Errorf("pubsub: read history response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return HistoryPage{}, &AuthError{Status: resp.StatusCode, Body: string(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HistoryPage{}, &TransportError{Status: resp.StatusCode, Body: string(raw)}
	}

	var wire struct {
		Items      []HistoryItem `json:"items"`
		NextCursor *string       `json:"nextCursor"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return HistoryPage{}, fmt.Errorf("pubsub: decode history response: %w", err)
	}
	page := HistoryPage{Items: wire.Items, NextCursor: wire.NextCursor}

	if h.cache != nil {
		_ = h.cache.Put(cacheKey, toCachePage(page))
	}
	return page, nil
}

func toCachePage(page HistoryPage) historycache.Page {
	items := make([]json.RawMessage, 0, len(page.Items))
	for _, item := range page.Items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		items = append(items, raw)
	}
	return historycache.Page{Items: items, NextCursor: page.NextCursor}
}

func fromCachePage(cached historycache.Page) (HistoryPage, error) {
	items := make([]HistoryItem, 0, len(cached.Items))
	for _, raw := range cached.Items {
		var item HistoryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return HistoryPage{}, fmt.Errorf("pubsub: decode cached history item: %w", err)
		}
		items = append(items, item)
	}
	return HistoryPage{Items: items, NextCursor: cached.NextCursor}, nil
}
