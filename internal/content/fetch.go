package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperfeed/internal/logging"
)

// Image responses outside these bounds are treated as broken and discarded.
const (
	minImageBytes = 10
	maxImageBytes = 50 << 20
)

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// Some hosts refuse requests without browser-like headers. Matched by host
// suffix against the original (pre-proxy) image URL.
var hostHeaders = []struct {
	suffix  string
	headers map[string]string
}{
	{"qpic.cn", map[string]string{"Referer": "https://mp.weixin.qq.com/", "User-Agent": browserUserAgent}},
	{"sinaimg.cn", map[string]string{"Referer": "https://weibo.com/", "User-Agent": browserUserAgent}},
	{"cdninstagram.com", map[string]string{"User-Agent": browserUserAgent}},
}

// FetcherOptions configures image downloads.
type FetcherOptions struct {
	Timeout time.Duration
	// ProxyURL, when set, is prefixed to every image URL (the target is
	// query-escaped and appended). ProxyToken is sent as a bearer header.
	ProxyURL   string
	ProxyToken string
	HTTPClient *http.Client
}

// Fetcher downloads images with bounded size and basic content sanity checks.
type Fetcher struct {
	http       *http.Client
	proxyURL   string
	proxyToken string
	logger     *slog.Logger
}

// NewFetcher builds an image fetcher.
func NewFetcher(opts FetcherOptions, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		http:       client,
		proxyURL:   opts.ProxyURL,
		proxyToken: opts.ProxyToken,
		logger:     logger,
	}
}

// Fetch downloads one image into destDir under its generated filename. On any
// failure the partial file is removed, the reason is recorded on the
// descriptor, and the error is returned; a failed image never aborts the
// containing entry.
func (f *Fetcher) Fetch(ctx context.Context, img *Image, destDir string) (err error) {
	defer func() {
		if err != nil {
			img.Downloaded = false
			img.FailureReason = err.Error()
		}
	}()

	target := img.FetchURL()
	requestURL := target
	if f.proxyURL != "" {
		requestURL = f.proxyURL + url.QueryEscape(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if f.proxyToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.proxyToken)
	}
	applyHostHeaders(req, target)

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	// Sniff the first block so octet-stream and missing content types can
	// still be validated as images.
	head := make([]byte, 512)
	n, readErr := io.ReadFull(resp.Body, head)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		return fmt.Errorf("read image: %w", readErr)
	}
	head = head[:n]

	if err := checkImageType(resp.Header.Get("Content-Type"), head); err != nil {
		return err
	}

	path := filepath.Join(destDir, img.Filename)
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	written, copyErr := writeBounded(out, head, resp.Body)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return copyErr
	case closeErr != nil:
		_ = os.Remove(path)
		return fmt.Errorf("close image file: %w", closeErr)
	case written < minImageBytes:
		_ = os.Remove(path)
		return fmt.Errorf("image too small: %d bytes", written)
	}

	img.Downloaded = true
	img.FailureReason = ""
	return nil
}

func writeBounded(out *os.File, head []byte, rest io.Reader) (int64, error) {
	if _, err := out.Write(head); err != nil {
		return 0, fmt.Errorf("write image: %w", err)
	}
	written := int64(len(head))

	n, err := io.Copy(out, io.LimitReader(rest, maxImageBytes-written+1))
	if err != nil {
		return 0, fmt.Errorf("write image: %w", err)
	}
	written += n
	if written > maxImageBytes {
		return 0, fmt.Errorf("image too large: exceeds %d bytes", int64(maxImageBytes))
	}
	return written, nil
}

// checkImageType accepts declared image types and octet-stream or missing
// types whose content sniffs as an image.
func checkImageType(declared string, head []byte) error {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}

	if strings.HasPrefix(declared, "image/") {
		return nil
	}
	if declared == "" || declared == "application/octet-stream" {
		if strings.HasPrefix(http.DetectContentType(head), "image/") {
			return nil
		}
		return fmt.Errorf("response does not look like an image")
	}
	return fmt.Errorf("unexpected content type %q", declared)
}

func applyHostHeaders(req *http.Request, target string) {
	u, err := url.Parse(target)
	if err != nil {
		return
	}
	host := u.Hostname()
	for _, hh := range hostHeaders {
		if host == hh.suffix || strings.HasSuffix(host, "."+hh.suffix) {
			for k, v := range hh.headers {
				req.Header.Set(k, v)
			}
			return
		}
	}
}
