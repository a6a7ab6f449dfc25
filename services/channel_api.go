package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stayhub-sync-server/models"
	"stayhub-sync-server/storage"

	"gorm.io/gorm"
)

// ErrReservationNotFound marks a 404 from the reservation-detail endpoint;
// reconciliation treats it as "orphan", not as a transport failure.
var ErrReservationNotFound = errors.New("reservation not found in source")

const channelRequestTimeout = 15 * time.Second

// ChannelClient talks to the StayHub REST API. Auth is HTTP Basic with the
// organization's api key/secret; a key without a secret degrades to Bearer.
type ChannelClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client
}

func NewChannelClient(apiKey, baseURL, apiSecret string) *ChannelClient {
	return &ChannelClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: channelRequestTimeout},
	}
}

// NewChannelClientFromConfig builds a client for the organization's stored
// channel config.
func NewChannelClientFromConfig(cfg *models.ChannelConfig) *ChannelClient {
	return NewChannelClient(cfg.APIKey, cfg.BaseURL, cfg.APISecret)
}

func (c *ChannelClient) authorize(req *http.Request) {
	if c.apiSecret != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":" + c.apiSecret))
		req.Header.Set("Authorization", "Basic "+credentials)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// request performs a call and decodes JSON when the body is JSON. Non-JSON
// error bodies are tolerated and folded into the returned error.
func (c *ChannelClient) request(ctx context.Context, method, endpoint string) (interface{}, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var decoded interface{}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &decoded); err != nil {
			decoded = string(body)
		}
	} else {
		decoded = string(body)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(utilsErrorBody(decoded))
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	return decoded, resp.StatusCode, nil
}

func utilsErrorBody(decoded interface{}) string {
	if s, ok := decoded.(string); ok {
		return s
	}
	b, err := json.Marshal(decoded)
	if err != nil {
		return "unreadable error body"
	}
	return string(b)
}

// GetReservation fetches the full reservation detail by its StayHub id.
func (c *ChannelClient) GetReservation(ctx context.Context, reservationID string) (interface{}, error) {
	endpoint := "/booking/reservations/" + url.PathEscape(reservationID)
	decoded, status, err := c.request(ctx, http.MethodGet, endpoint)
	if status == http.StatusNotFound {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// ListReservations lists source reservations whose check-in falls inside the
// given range. The API wraps the list under different keys depending on
// version.
func (c *ChannelClient) ListReservations(ctx context.Context, checkInFrom, checkInTo string, limit int) ([]interface{}, error) {
	q := url.Values{}
	if checkInFrom != "" {
		q.Set("checkInFrom", checkInFrom)
	}
	if checkInTo != "" {
		q.Set("checkInTo", checkInTo)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	decoded, _, err := c.request(ctx, http.MethodGet, "/booking/reservations?"+q.Encode())
	if err != nil {
		return nil, err
	}

	if items, ok := decoded.([]interface{}); ok {
		return items, nil
	}
	if obj, ok := decoded.(map[string]interface{}); ok {
		for _, key := range []string{"items", "reservations"} {
			if items, ok := obj[key].([]interface{}); ok {
				return items, nil
			}
		}
	}
	return []interface{}{}, nil
}

const channelConfigCacheTTL = 5 * time.Minute

// LoadChannelConfig loads the organization's StayHub config, going through
// the Redis cache when available. Returns an error when no enabled config
// exists; webhook processing cannot run without credentials.
func LoadChannelConfig(db *gorm.DB, organizationID string) (*models.ChannelConfig, error) {
	cacheKey := "channel_config:" + organizationID

	if storage.Redis != nil {
		if cached, err := storage.Redis.Get(context.Background(), cacheKey).Result(); err == nil {
			var cfg models.ChannelConfig
			if json.Unmarshal([]byte(cached), &cfg) == nil {
				return &cfg, nil
			}
		}
	}

	var cfg models.ChannelConfig
	err := db.Where("organization_id = ?", organizationID).First(&cfg).Error
	if err != nil {
		return nil, fmt.Errorf("channel config not found for organization %s: %w", organizationID, err)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("channel config disabled for organization %s", organizationID)
	}

	if storage.Redis != nil {
		if encoded, err := json.Marshal(cfg); err == nil {
			// Best-effort; a cache miss only costs one SELECT.
			storage.Redis.Set(context.Background(), cacheKey, encoded, channelConfigCacheTTL)
		}
	}
	return &cfg, nil
}

// InvalidateChannelConfigCache drops the cached config after a save.
func InvalidateChannelConfigCache(organizationID string) {
	if storage.Redis == nil {
		return
	}
	storage.Redis.Del(context.Background(), "channel_config:"+organizationID)
}
