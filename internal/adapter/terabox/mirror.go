package terabox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// MirrorProber picks the fastest of several download links for the same file
type MirrorProber struct {
	client     *http.Client
	userAgent  string
	sampleSize int64
	timeout    time.Duration
}

// NewMirrorProber creates a prober that reads the first MiB of each link with a 5s budget
func NewMirrorProber(userAgent string) *MirrorProber {
	return &MirrorProber{
		client:     &http.Client{},
		userAgent:  userAgent,
		sampleSize: 1 << 20,
		timeout:    5 * time.Second,
	}
}

// Fastest probes all links concurrently and returns the one with the best
// throughput. The first link is returned when every probe fails.
func (p *MirrorProber) Fastest(ctx context.Context, links []string) string {
	if len(links) == 0 {
		return ""
	}
	if len(links) == 1 {
		return links[0]
	}

	scores := make([]float64, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			scores[i] = p.score(ctx, link)
		}(i, link)
	}
	wg.Wait()

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return links[best]
}

// score returns bytes per second for the sample, 0 on failure
func (p *MirrorProber) score(ctx context.Context, link string) float64 {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.sampleSize-1))
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0
	}

	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, p.sampleSize))
	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed
}
