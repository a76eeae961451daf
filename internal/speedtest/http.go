package speedtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDownloadBytes = 25 << 20
	defaultUploadBytes   = 10 << 20
	pingSamples          = 3
	userAgent            = "MiniRack-Dashboard"
)

// HTTPRunner measures throughput against a speed endpoint that serves
// GET {base}/__down?bytes=N and accepts POST {base}/__up.
type HTTPRunner struct {
	client        *http.Client
	baseURL       string
	DownloadBytes int64
	UploadBytes   int64
}

func NewHTTPRunner(client *http.Client, baseURL string) *HTTPRunner {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRunner{
		client:        client,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		DownloadBytes: defaultDownloadBytes,
		UploadBytes:   defaultUploadBytes,
	}
}

func (r *HTTPRunner) Run(ctx context.Context) (Result, error) {
	ping, err := r.ping(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ping: %w", err)
	}
	download, err := r.download(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("download: %w", err)
	}
	upload, err := r.upload(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	return Result{
		DownloadMbps: round2(download),
		UploadMbps:   round2(upload),
		PingMs:       round2(ping),
	}, nil
}

// ping returns the fastest of a few empty round trips in milliseconds.
func (r *HTTPRunner) ping(ctx context.Context) (float64, error) {
	best := math.MaxFloat64
	for i := 0; i < pingSamples; i++ {
		started := time.Now()
		if _, err := r.get(ctx, 0); err != nil {
			return 0, err
		}
		if ms := float64(time.Since(started).Microseconds()) / 1000; ms < best {
			best = ms
		}
	}
	return best, nil
}

func (r *HTTPRunner) download(ctx context.Context) (float64, error) {
	started := time.Now()
	n, err := r.get(ctx, r.DownloadBytes)
	if err != nil {
		return 0, err
	}
	return mbps(n, time.Since(started)), nil
}

func (r *HTTPRunner) upload(ctx context.Context) (float64, error) {
	body := bytes.NewReader(make([]byte, r.UploadBytes))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/__up", body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	return mbps(r.UploadBytes, time.Since(started)), nil
}

func (r *HTTPRunner) get(ctx context.Context, size int64) (int64, error) {
	url := r.baseURL + "/__down?bytes=" + strconv.FormatInt(size, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, resp.Body)
}

func mbps(n int64, took time.Duration) float64 {
	if took <= 0 {
		took = time.Microsecond
	}
	return float64(n) * 8 / took.Seconds() / 1e6
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
