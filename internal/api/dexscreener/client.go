// internal/api/dexscreener/client.go
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/ratelimit"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// Client - клиент API обогащения цен токенов.
// Токен без листинга - валидный пустой результат (nil, nil), не ошибка.
type Client struct {
	httpClient *http.Client
	baseURL    string
	scheduler  *ratelimit.Scheduler
}

// pairsResponse - ответ /dex/tokens/{address}
type pairsResponse struct {
	Pairs []struct {
		BaseToken struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
		PriceUsd  string  `json:"priceUsd"`
		MarketCap float64 `json:"marketCap"`
		Liquidity struct {
			Usd float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
	} `json:"pairs"`
}

// apiError - ошибка уровня HTTP
type apiError struct {
	status int
}

func (e *apiError) Error() string   { return fmt.Sprintf("dexscreener api: status %d", e.status) }
func (e *apiError) StatusCode() int { return e.status }

// NewClient создает клиент DexScreener
func NewClient(cfg *config.Config, scheduler *ratelimit.Scheduler) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(cfg.DexScreenerBaseURL, "/"),
		scheduler:  scheduler,
	}
}

// GetTokenInfo возвращает данные токена по адресу.
// Возвращает (nil, nil) если токен не листингован.
func (c *Client) GetTokenInfo(ctx context.Context, address string) (*types.TokenInfo, error) {
	result, err := c.scheduler.Schedule(ctx, config.EndpointTokenInfo, func(ctx context.Context) (interface{}, error) {
		endpoint := fmt.Sprintf("%s/dex/tokens/%s", c.baseURL, address)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", types.ErrUpstreamUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &apiError{status: resp.StatusCode}
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, &apiError{status: resp.StatusCode}
		}

		var parsed pairsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("dexscreener api: decode: %w", err)
		}

		if len(parsed.Pairs) == 0 {
			// Токен не листингован - пустой результат
			return (*types.TokenInfo)(nil), nil
		}

		// Берем пару с максимальной ликвидностью
		best := parsed.Pairs[0]
		for _, p := range parsed.Pairs[1:] {
			if p.Liquidity.Usd > best.Liquidity.Usd {
				best = p
			}
		}

		price, _ := strconv.ParseFloat(best.PriceUsd, 64)
		return &types.TokenInfo{
			Address:   address,
			Symbol:    best.BaseToken.Symbol,
			PriceUsd:  price,
			MarketCap: best.MarketCap,
			Liquidity: best.Liquidity.Usd,
			Volume24h: best.Volume.H24,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	info, _ := result.(*types.TokenInfo)
	return info, nil
}
