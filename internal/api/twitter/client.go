// internal/api/twitter/client.go
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/ratelimit"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// Client - клиент Twitter API v2. Все вызовы проходят через планировщик
// квот под именами эндпоинтов из пакета config.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
	scheduler   *ratelimit.Scheduler
}

// NewClient создает клиент Twitter API
func NewClient(cfg *config.Config, scheduler *ratelimit.Scheduler) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		baseURL:     strings.TrimRight(cfg.TwitterBaseURL, "/"),
		bearerToken: cfg.TwitterBearerToken,
		scheduler:   scheduler,
	}
}

// GetUserByUsername разрешает ник аккаунта в ID и отображаемое имя
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	result, err := c.scheduler.Schedule(ctx, config.EndpointUserLookup, func(ctx context.Context) (interface{}, error) {
		endpoint := fmt.Sprintf("%s/users/by/username/%s", c.baseURL, url.PathEscape(username))

		var resp userResponse
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, fmt.Errorf("user %q: %w", username, types.ErrNotFound)
		}
		return resp.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*User), nil
}

// GetUserTweets возвращает новые твиты аккаунта после курсора sinceID
func (c *Client) GetUserTweets(ctx context.Context, userID, sinceID string) ([]Tweet, error) {
	result, err := c.scheduler.Schedule(ctx, config.EndpointUserTweets, func(ctx context.Context) (interface{}, error) {
		params := url.Values{}
		params.Set("max_results", "100")
		params.Set("tweet.fields", "created_at")
		if sinceID != "" {
			params.Set("since_id", sinceID)
		}
		endpoint := fmt.Sprintf("%s/users/%s/tweets?%s", c.baseURL, url.PathEscape(userID), params.Encode())

		var resp tweetsResponse
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		return resp.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Tweet), nil
}

// SearchRecent выполняет батч-поиск твитов нескольких аккаунтов одним
// запросом. Эндпоинт батчевый: планировщик сам выдерживает минимальный
// интервал между батчами и повторяет при rate-limit.
func (c *Client) SearchRecent(ctx context.Context, usernames []string, sinceID string) ([]Tweet, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	result, err := c.scheduler.Schedule(ctx, config.EndpointSearchRecent, func(ctx context.Context) (interface{}, error) {
		clauses := make([]string, len(usernames))
		for i, u := range usernames {
			clauses[i] = "from:" + u
		}

		params := url.Values{}
		params.Set("query", strings.Join(clauses, " OR "))
		params.Set("max_results", "100")
		params.Set("tweet.fields", "created_at,author_id")
		if sinceID != "" {
			params.Set("since_id", sinceID)
		}
		endpoint := fmt.Sprintf("%s/tweets/search/recent?%s", c.baseURL, params.Encode())

		var resp tweetsResponse
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		return resp.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Tweet), nil
}

// get выполняет GET с bearer-авторизацией и разбирает статусы ответа
func (c *Client) get(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", types.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apiError{
			status:  resp.StatusCode,
			body:    string(body),
			resetAt: parseResetHeader(resp.Header.Get("x-rate-limit-reset")),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return &apiError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("twitter api: decode: %w", err)
	}
	return nil
}

// parseResetHeader разбирает x-rate-limit-reset (unix-секунды)
func parseResetHeader(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}
