package ingest

import (
	"context"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ibnr-engine/internal/resilience"
)

// maxSourceBytes caps how much of a single source is read into memory.
const maxSourceBytes = 512 << 20

// Downloader fetches remote sources with rate limiting and retry.
type Downloader struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	retry     resilience.RetryConfig
}

// NewDownloader returns a Downloader allowing rps requests per second.
func NewDownloader(timeout time.Duration, rps float64) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if rps <= 0 {
		rps = 2
	}
	return &Downloader{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(math.Ceil(rps)))),
		userAgent: "ibnr-engine/1.0",
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Fetch downloads rawURL and returns the body. Transient statuses and
// network errors are retried.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "ingest: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", d.userAgent)

		resp, err := d.client.Do(req)
		if err != nil {
			zap.L().Warn("ingest: download failed", zap.String("url", rawURL), zap.Error(err))
			return resilience.NewTransientError(eris.Wrap(err, "ingest: download"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}

		body, err = readLimited(resp.Body)
		return err
	})
	return body, err
}

// Open reads a source into memory. Sources starting with http:// or
// https:// are downloaded; anything else is a local path.
func Open(ctx context.Context, d *Downloader, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if d == nil {
			d = NewDownloader(0, 0)
		}
		return d.Fetch(ctx, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", src)
	}
	defer f.Close() //nolint:errcheck
	return readLimited(f)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSourceBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read source")
	}
	if len(data) > maxSourceBytes {
		return nil, eris.Errorf("ingest: source exceeds %d bytes", maxSourceBytes)
	}
	return data, nil
}
