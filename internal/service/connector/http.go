package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/service/ratelimit"
	xhttp "FixedTime/pkg/http"
)

// HTTPConfig holds the REST venue session settings for one account.
type HTTPConfig struct {
	BaseURL  string
	Account  string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPConnector talks to a REST venue. 5xx, 429 and network errors are transient; other 4xx are permanent.
type HTTPConnector struct {
	cfg     HTTPConfig
	client  *xhttp.Client
	limiter *ratelimit.Limiter

	mu    sync.RWMutex
	token string
}

func NewHTTPConnector(cfg HTTPConfig, limiter *ratelimit.Limiter) *HTTPConnector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPConnector{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithUserAgent("fixedtime-connector/1")),
		limiter: limiter,
	}
}

type loginResp struct {
	Token string `json:"token"`
}

type payoutResp struct {
	Payout float64 `json:"payout"`
}

func (c *HTTPConnector) Login(ctx context.Context) error {
	var resp loginResp
	err := c.do(ctx, xhttp.MethodPost, "/auth/login", nil, map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *HTTPConnector) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, xhttp.MethodGet, "/heartbeat", nil, nil, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (c *HTTPConnector) Close() error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

func (c *HTTPConnector) GetCandles(ctx context.Context, product string, tf, n int) ([]models.Candle, error) {
	var out []models.Candle
	q := map[string][]string{
		"product": {product},
		"tf":      {strconv.Itoa(tf)},
		"n":       {strconv.Itoa(n)},
	}
	if err := c.do(ctx, xhttp.MethodGet, "/candles", q, nil, &out); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", product, err)
	}
	return out, nil
}

func (c *HTTPConnector) GetCurrentWinRate(ctx context.Context, product string) (float64, error) {
	var resp payoutResp
	q := map[string][]string{"product": {product}}
	if err := c.do(ctx, xhttp.MethodGet, "/payout", q, nil, &resp); err != nil {
		return 0, fmt.Errorf("get payout %s: %w", product, err)
	}
	return resp.Payout, nil
}

// PlaceOrder waits on the per-account limiter before sending.
func (c *HTTPConnector) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (models.OrderAck, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.cfg.Account); err != nil {
			return models.OrderAck{}, repository.Transient(fmt.Errorf("rate limit: %w", err))
		}
	}
	var ack models.OrderAck
	if err := c.do(ctx, xhttp.MethodPost, "/orders", nil, req, &ack); err != nil {
		return models.OrderAck{}, fmt.Errorf("place order: %w", err)
	}
	if ack.ClientReqID == "" {
		ack.ClientReqID = req.ClientReqID
	}
	return ack, nil
}

func (c *HTTPConnector) ConfirmOrder(ctx context.Context, orderID string) (models.Confirmation, error) {
	var conf models.Confirmation
	if err := c.do(ctx, xhttp.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &conf); err != nil {
		return models.Confirmation{}, fmt.Errorf("confirm order %s: %w", orderID, err)
	}
	conf.Status = models.ResultStatus(strings.ToLower(string(conf.Status)))
	if conf.OrderID == "" {
		conf.OrderID = orderID
	}
	return conf, nil
}

func (c *HTTPConnector) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, xhttp.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *HTTPConnector) do(ctx context.Context, method, path string, query map[string][]string, body, dest interface{}) error {
	headers := map[string]string{"Accept": "application/json"}
	c.mu.RLock()
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	c.mu.RUnlock()

	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         strings.TrimRight(c.cfg.BaseURL, "/") + path,
		Headers:     headers,
		QueryParams: query,
		Body:        body,
	}, dest)
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		if se.Temporary() {
			return repository.Transient(err)
		}
		if se.Code == 404 {
			return repository.Permanent(fmt.Errorf("%w: %w", repository.ErrNotFound, err))
		}
		return repository.Permanent(err)
	}
	return repository.Transient(err)
}

var _ repository.Connector = (*HTTPConnector)(nil)
