package bybit

// client.go — HTTP client del venue con rate limiting y retries.
//
// Dos limiters: todo request espera el de market data (generoso) y las
// órdenes (POST) esperan además el de trade (estricto). Backoff exponencial con full jitter; los rechazos de
// auth y de reglas del venue no se reintentan nunca.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// ProductionBase es el host real; DemoBase solo difiere en el host.
	ProductionBase = "https://api.bybit.com"
	DemoBase       = "https://api-demo.bybit.com"

	defaultRecvWindow = "5000"

	// Rate limits al ~60% de los documentados para la categoría linear.
	marketRatePerSec = 30
	tradeRatePerSec  = 8

	readAttempts  = 5
	orderAttempts = 3
	baseRetryWait = 300 * time.Millisecond
	maxRetryWait  = 5 * time.Second

	readTimeout  = 5 * time.Second
	orderTimeout = 10 * time.Second
)

// envelope es el sobre estándar de toda respuesta v5.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Client habla el contrato HTTP v5 del venue.
type Client struct {
	http       *http.Client
	base       string
	apiKey     string
	apiSecret  string
	recvWindow string

	marketLimiter *rate.Limiter
	tradeLimiter  *rate.Limiter

	// now permite fijar el reloj en tests de firma.
	now func() time.Time
}

// NewClient crea un Client contra el host dado. Si base está vacío usa
// producción. apiKey/apiSecret pueden estar vacíos para endpoints públicos.
func NewClient(base, apiKey, apiSecret string) *Client {
	if base == "" {
		base = ProductionBase
	}
	return &Client{
		http:          &http.Client{Timeout: orderTimeout + 2*time.Second},
		base:          base,
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		recvWindow:    defaultRecvWindow,
		marketLimiter: rate.NewLimiter(marketRatePerSec, 10),
		tradeLimiter:  rate.NewLimiter(tradeRatePerSec, 2),
		now:           time.Now,
	}
}

// get hace un GET público con retries de lectura.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.doWithRetry(ctx, readAttempts, readTimeout, func(ctx context.Context) (*http.Request, error) {
		u := c.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// getSigned hace un GET firmado (posiciones, balances).
func (c *Client) getSigned(ctx context.Context, path string, query url.Values, out any) error {
	return c.doWithRetry(ctx, readAttempts, readTimeout, func(ctx context.Context) (*http.Request, error) {
		qs := query.Encode()
		u := c.base + path
		if qs != "" {
			u += "?" + qs
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		c.signRequest(req, qs)
		return req, nil
	}, out)
}

// postSigned hace un POST firmado. body son los bytes exactos del JSON: se
// firman y se transmiten sin re-serializar.
func (c *Client) postSigned(ctx context.Context, path string, body []byte, out any) error {
	return c.doWithRetry(ctx, orderAttempts, orderTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		c.signRequest(req, string(body))
		return req, nil
	}, out)
}

// doWithRetry ejecuta el request con límite de intentos y backoff con full
// jitter. Reintenta errores Transport y RateLimited; una respuesta malformada
// se reintenta una sola vez.
func (c *Client) doWithRetry(
	ctx context.Context,
	attempts int,
	timeout time.Duration,
	build func(context.Context) (*http.Request, error),
	out any,
) error {
	limiter := c.marketLimiter
	var lastErr error
	malformedRetried := false

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoffWait(attempt)
			var rl *RateLimitedError
			if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
				wait = rl.RetryAfter
			}
			slog.Debug("bybit: retrying request", "attempt", attempt, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return &TransportError{Op: "wait", Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return &TransportError{Op: "rate-wait", Err: err}
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.doOnce(reqCtx, build, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrMalformed) && !malformedRetried {
			malformedRetried = true
			continue
		}
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("bybit: agotados %d intentos: %w", attempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, build func(context.Context) (*http.Request, error), out any) error {
	req, err := build(ctx)
	if err != nil {
		return &TransportError{Op: "build", Err: err}
	}
	if req.Method == http.MethodPost {
		// Las órdenes usan el limiter estricto.
		// (el Wait general ya se hizo con market; trade añade su cuota)
		if err := c.tradeLimiter.Wait(ctx); err != nil {
			return &TransportError{Op: "rate-wait", Err: err}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: http %d", ErrAuthReject, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return &TransportError{Op: req.URL.Path, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: "read body", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, req.URL.Path, err)
	}
	if env.RetCode != codeOK {
		return classifyRetCode(env.RetCode, env.RetMsg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%w: result de %s: %v", ErrMalformed, req.URL.Path, err)
		}
	}
	return nil
}

// backoffWait devuelve una espera exponencial con full jitter.
func backoffWait(attempt int) time.Duration {
	ceil := baseRetryWait << (attempt - 1)
	if ceil > maxRetryWait {
		ceil = maxRetryWait
	}
	return time.Duration(rand.Int63n(int64(ceil)) + 1)
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
