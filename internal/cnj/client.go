// Package cnj wraps the external court-communications query API.
//
// The client enforces a local request budget with a token bucket and a
// circuit breaker keyed by host; rate-limit exhaustion surfaces as a
// *RateLimitError so callers can distinguish "retry later" from hard
// upstream failures.
package cnj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/litigio/comunicasync/internal/domain"
)

// ErrUpstream wraps non-2xx responses that are not rate limiting.
var ErrUpstream = errors.New("upstream error")

// RateLimitError reports that the source's rate-limit budget is
// exhausted and when a retry may succeed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Breaker is the subset of the circuit breaker the client consumes.
type Breaker interface {
	Allow(host string) error
	RecordSuccess(host string)
	RecordFailure(host string)
}

// MetricsSink records client metrics. Methods must be non-blocking.
type MetricsSink interface {
	SourceQueryCompleted(statusClass string, duration time.Duration)
	RateLimitDeferred()
}

type Pagination struct {
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   *time.Time
}

type QueryResult struct {
	// Items preserve the source's own order.
	Items      []domain.Communication
	Pagination Pagination
	RateLimit  RateLimit
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	breaker    Breaker     // optional, nil = disabled
	metrics    MetricsSink // optional, nil = disabled
	clock      func() time.Time
}

// New creates a client for the given base URL (no trailing slash).
// requestsPerMinute bounds the local query budget shared by all callers.
func New(baseURL string, requestsPerMinute int, timeout time.Duration) *Client {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(limit, 1),
		clock:      time.Now,
	}
}

// WithBreaker attaches a circuit breaker to the client.
func (c *Client) WithBreaker(b Breaker) *Client {
	c.breaker = b
	return c
}

// WithMetrics attaches a metrics sink to the client.
func (c *Client) WithMetrics(sink MetricsSink) *Client {
	c.metrics = sink
	return c
}

// sourceItem mirrors one item of the source response.
type sourceItem struct {
	Hash                 string `json:"hash"`
	SiglaTribunal        string `json:"siglaTribunal"`
	NumeroProcesso       string `json:"numeroProcesso"`
	NumeroComunicacao    int    `json:"numeroComunicacao"`
	Texto                string `json:"texto"`
	DataDisponibilizacao string `json:"dataDisponibilizacao"` // YYYY-MM-DD
	Meio                 string `json:"meio"`                 // "D" or "E"

	Destinatarios []struct {
		Nome string `json:"nome"`
	} `json:"destinatarios"`
	DestinatarioAdvogados []struct {
		Advogado struct {
			Nome string `json:"nome"`
		} `json:"advogado"`
	} `json:"destinatarioadvogados"`
}

type sourceResponse struct {
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

// Query runs one page query against the source. The local budget is
// checked before any I/O; when exhausted a *RateLimitError is returned
// without contacting the source.
func (c *Client) Query(ctx context.Context, f Filters) (*QueryResult, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate filters: %w", err)
	}

	if !c.limiter.Allow() {
		if c.metrics != nil {
			c.metrics.RateLimitDeferred()
		}
		res := c.limiter.Reserve()
		delay := res.Delay()
		res.Cancel()
		return nil, &RateLimitError{RetryAfter: delay}
	}

	reqURL := c.baseURL + "/api/v1/comunicacao?" + f.query().Encode()

	if c.breaker != nil {
		if err := c.breaker.Allow(c.baseURL); err != nil {
			return nil, fmt.Errorf("query source: %w", err)
		}
	}

	start := c.clock()
	result, err := c.doQuery(ctx, reqURL, f)
	duration := c.clock().Sub(start)

	if c.metrics != nil {
		c.metrics.SourceQueryCompleted(classifyOutcome(err), duration)
	}
	if c.breaker != nil {
		// Rate limiting is budget exhaustion, not upstream ill health.
		var rle *RateLimitError
		if err != nil && !errors.As(err, &rle) {
			c.breaker.RecordFailure(c.baseURL)
		} else if err == nil {
			c.breaker.RecordSuccess(c.baseURL)
		}
	}
	return result, err
}

func (c *Client) doQuery(ctx context.Context, reqURL string, f Filters) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header, rl, c.clock())}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, body)
	}

	var sr sourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]domain.Communication, 0, len(sr.Items))
	for _, raw := range sr.Items {
		comm, err := decodeItem(raw)
		if err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, comm)
	}

	totalPages := sr.Count / f.PageSize
	if sr.Count%f.PageSize != 0 {
		totalPages++
	}

	return &QueryResult{
		Items: items,
		Pagination: Pagination{
			Page:       f.Page,
			PageSize:   f.PageSize,
			Total:      sr.Count,
			TotalPages: totalPages,
		},
		RateLimit: rl,
	}, nil
}

func decodeItem(raw json.RawMessage) (domain.Communication, error) {
	var it sourceItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return domain.Communication{}, err
	}

	comm := domain.Communication{
		Hash:                it.Hash,
		Tribunal:            it.SiglaTribunal,
		ProcessNumber:       it.NumeroProcesso,
		CommunicationNumber: it.NumeroComunicacao,
		Text:                it.Texto,
		Raw:                 append([]byte(nil), raw...),
	}

	switch it.Meio {
	case "E":
		comm.Medium = domain.MediumEdital
	default:
		comm.Medium = domain.MediumGazette
	}

	if it.DataDisponibilizacao != "" {
		t, err := time.Parse("2006-01-02", it.DataDisponibilizacao)
		if err != nil {
			return domain.Communication{}, fmt.Errorf("parse disclosure date %q: %w", it.DataDisponibilizacao, err)
		}
		comm.DisclosedOn = t
	}

	for _, d := range it.Destinatarios {
		comm.PartyNames = append(comm.PartyNames, d.Nome)
	}
	for _, da := range it.DestinatarioAdvogados {
		comm.LawyerNames = append(comm.LawyerNames, da.Advogado.Nome)
	}

	if comm.Hash == "" {
		comm.Hash = comm.Fingerprint()
	}
	return comm, nil
}

func parseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{Limit: -1, Remaining: -1}
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Limit = n
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(secs, 0).UTC()
			rl.ResetAt = &t
		}
	}
	return rl
}

func retryAfter(h http.Header, rl RateLimit, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if rl.ResetAt != nil && rl.ResetAt.After(now) {
		return rl.ResetAt.Sub(now)
	}
	return time.Minute
}

func classifyOutcome(err error) string {
	if err == nil {
		return "2xx"
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return "rate_limited"
	}
	if errors.Is(err, ErrUpstream) {
		return "upstream_error"
	}
	return "transport_error"
}
