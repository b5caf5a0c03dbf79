// Package httpmarket 基于通用 JSON REST 行情服务实现 market.DataProvider。
// 任何暴露 quote/history/chain 三个端点的供应商都可以通过配置接入，
// 主源与备源可以是同一实现的两个实例。
package httpmarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"optq/internal/market"
)

const defaultHistoryLimit = 600

// Config 描述一个 HTTP 行情源。
type Config struct {
	Name        string        `toml:"name"`
	BaseURL     string        `toml:"base_url"`
	APIKey      string        `toml:"api_key"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "httpmarket"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Source 是 market.DataProvider 的 HTTP 实现。
type Source struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.BaseURL) == "" {
		return nil, fmt.Errorf("httpmarket: base_url is required")
	}
	return &Source{
		cfg:    final,
		client: &http.Client{Timeout: final.HTTPTimeout},
	}, nil
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.Quote{}, fmt.Errorf("symbol is required")
	}
	body, err := s.get(ctx, "/v1/quotes/"+url.PathEscape(symbol), nil)
	if err != nil {
		return market.Quote{}, err
	}
	root := gjson.ParseBytes(body)
	q := market.Quote{
		Symbol: symbol,
		Bid:    root.Get("bid").Float(),
		Ask:    root.Get("ask").Float(),
		Last:   root.Get("last").Float(),
		Volume: root.Get("volume").Float(),
	}
	if ts := root.Get("timestamp").Int(); ts > 0 {
		q.Timestamp = time.UnixMilli(ts)
	}
	if q.Last <= 0 && q.Bid <= 0 {
		return market.Quote{}, fmt.Errorf("%w: empty quote for %s", market.ErrUnavailable, symbol)
	}
	return q, nil
}

func (s *Source) GetHistory(ctx context.Context, symbol string, lookback int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	lookback, err := market.ValidateLookback(lookback, defaultHistoryLimit)
	if err != nil {
		return nil, err
	}
	body, err := s.get(ctx, "/v1/history/"+url.PathEscape(symbol), url.Values{
		"days": []string{fmt.Sprint(lookback)},
	})
	if err != nil {
		return nil, err
	}
	items := gjson.GetBytes(body, "candles").Array()
	out := make([]market.Candle, 0, len(items))
	for _, item := range items {
		c := market.Candle{
			OpenTime:  item.Get("t").Int(),
			Open:      item.Get("o").Float(),
			High:      item.Get("h").Float(),
			Low:       item.Get("l").Float(),
			Close:     item.Get("c").Float(),
			Volume:    item.Get("v").Float(),
		}
		c.CloseTime = c.OpenTime + int64(24*time.Hour/time.Millisecond) - 1
		if c.Close <= 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Source) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (market.OptionChain, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.OptionChain{}, fmt.Errorf("symbol is required")
	}
	body, err := s.get(ctx, "/v1/chains/"+url.PathEscape(symbol), url.Values{
		"min_dte": []string{fmt.Sprint(minDTE)},
		"max_dte": []string{fmt.Sprint(maxDTE)},
	})
	if err != nil {
		return market.OptionChain{}, err
	}
	root := gjson.ParseBytes(body)
	chain := market.OptionChain{
		Underlying: symbol,
		Spot:       root.Get("spot").Float(),
		FetchedAt:  time.Now(),
	}
	items := root.Get("contracts").Array()
	chain.Contracts = make([]market.OptionContract, 0, len(items))
	for _, item := range items {
		right, ok := market.ParseRight(item.Get("right").String())
		if !ok {
			continue
		}
		c := market.OptionContract{
			Symbol:       item.Get("symbol").String(),
			Underlying:   symbol,
			Strike:       item.Get("strike").Float(),
			Right:        right,
			Bid:          item.Get("bid").Float(),
			Ask:          item.Get("ask").Float(),
			Last:         item.Get("last").Float(),
			OpenInterest: item.Get("open_interest").Int(),
			Volume:       item.Get("volume").Int(),
			Greeks: market.Greeks{
				Delta: item.Get("greeks.delta").Float(),
				Gamma: item.Get("greeks.gamma").Float(),
				Theta: item.Get("greeks.theta").Float(),
				Vega:  item.Get("greeks.vega").Float(),
				IV:    item.Get("greeks.iv").Float(),
			},
		}
		if exp := item.Get("expiration").Int(); exp > 0 {
			c.Expiration = time.UnixMilli(exp)
		}
		if c.Symbol == "" || c.Strike <= 0 || c.Expiration.IsZero() {
			continue
		}
		chain.Contracts = append(chain.Contracts, c)
	}
	return chain, nil
}

// get 发起请求并把 HTTP 层错误映射到 market 的类型化错误。
func (s *Source) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", market.ErrRateLimited, endpoint)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", market.ErrSymbolNotFound, endpoint)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status=%d", market.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("httpmarket: unexpected status=%d body=%.120s", resp.StatusCode, string(body))
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: read body: %v", market.ErrUnavailable, readErr)
	}
	return body, nil
}

var _ market.DataProvider = (*Source)(nil)
