// internal/api/helius/client.go
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/ratelimit"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// Client - клиент API данных блокчейна (регистрация webhook и CRUD).
// Вызовы проходят через планировщик под эндпоинтом config.EndpointWebhooks.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	scheduler  *ratelimit.Scheduler
}

// NewClient создает клиент Helius API
func NewClient(cfg *config.Config, scheduler *ratelimit.Scheduler) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(cfg.HeliusBaseURL, "/"),
		apiKey:     cfg.HeliusApiKey,
		scheduler:  scheduler,
	}
}

// RegisterWebhook регистрирует webhook на заданный набор адресов
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL, authHeader string, addresses []string) (string, error) {
	result, err := c.scheduler.Schedule(ctx, config.EndpointWebhooks, func(ctx context.Context) (interface{}, error) {
		payload := webhookRequest{
			WebhookURL:       webhookURL,
			AccountAddresses: addresses,
			TransactionTypes: []string{"SWAP", "TRANSFER"},
			WebhookType:      "enhanced",
			AuthHeader:       authHeader,
		}

		var created Webhook
		if err := c.do(ctx, http.MethodPost, "/webhooks", payload, &created); err != nil {
			return nil, err
		}
		return created.WebhookID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ListWebhooks возвращает все зарегистрированные webhook
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	result, err := c.scheduler.Schedule(ctx, config.EndpointWebhooks, func(ctx context.Context) (interface{}, error) {
		var hooks []Webhook
		if err := c.do(ctx, http.MethodGet, "/webhooks", nil, &hooks); err != nil {
			return nil, err
		}
		return hooks, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Webhook), nil
}

// DeleteWebhook удаляет webhook по ID
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	_, err := c.scheduler.Schedule(ctx, config.EndpointWebhooks, func(ctx context.Context) (interface{}, error) {
		return nil, c.do(ctx, http.MethodDelete, "/webhooks/"+webhookID, nil, nil)
	})
	return err
}

// do выполняет запрос с api-key в query-параметре
func (c *Client) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	endpoint := fmt.Sprintf("%s%s?api-key=%s", c.baseURL, path, c.apiKey)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", types.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apiError{status: resp.StatusCode, body: string(respBody)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	if dest != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return fmt.Errorf("helius api: decode: %w", err)
		}
	}
	return nil
}
