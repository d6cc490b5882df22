package spx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultURL     = "https://tramavandon.com/api/spx.php"
	DefaultTimeout = 20 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"
	referer = "https://tramavandon.com/spx/"

	maxBody = 4 << 20
)

type Client struct {
	url     string
	httpc   *http.Client
	limiter *rate.Limiter
}

// New builds the SPX lookup client. requestsPerSecond <= 0 disables smoothing.
func New(url string, timeout time.Duration, requestsPerSecond float64) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		url:   url,
		httpc: &http.Client{Timeout: timeout},
	}
	if requestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return c
}

type lookupRequest struct {
	TrackingID string `json:"tracking_id"`
}

func (c *Client) Fetch(ctx context.Context, code string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.Upstream("rate limit wait", err)
		}
	}

	body, err := json.Marshal(lookupRequest{TrackingID: code})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("referer", referer)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, models.Upstream("do request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, models.Upstream("read body", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, models.Upstream(fmt.Sprintf("spx http %d", resp.StatusCode), nil)
	}
	if !json.Valid(raw) {
		return nil, models.Upstream("spx returned non-json body", nil)
	}
	return raw, nil
}
