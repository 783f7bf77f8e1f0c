package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"socialnotify/pkg/circuitbreaker"
	"socialnotify/pkg/jobqueue"
)

// Provider 邮件投递方
type Provider interface {
	Send(ctx context.Context, to string, msg Message) error
}

type SenderConfig struct {
	URL           string
	APIKey        string
	From          string
	Timeout       time.Duration
	RatePerSecond float64
}

// HTTPSender 通过 HTTP API 投递邮件（Bearer 鉴权），带熔断和限速
type HTTPSender struct {
	cfg     SenderConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewHTTPSender(cfg SenderConfig, logger *zap.Logger) *HTTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	// 4xx 是请求本身的问题，不代表服务不可用
	breakerCfg.IsFailure = func(err error) bool { return !jobqueue.IsPermanent(err) }
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Email provider circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &HTTPSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(breakerCfg),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Send delivers msg. 4xx responses (other than 429) are permanent failures.
func (s *HTTPSender) Send(ctx context.Context, to string, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.post(ctx, sendRequest{
			From:    s.cfg.From,
			To:      to,
			Subject: msg.Subject,
			Text:    msg.Text,
			HTML:    msg.HTML,
		})
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("email provider unavailable: %w", err)
	}
	return err
}

func (s *HTTPSender) post(ctx context.Context, body sendRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return jobqueue.Permanent(fmt.Errorf("encode email request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return jobqueue.Permanent(fmt.Errorf("build email request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("email provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return jobqueue.Permanent(statusErr)
	}
	return statusErr
}
