package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "go-photo-cropper/internal/errors"
)

const fetchAttempts = 3

// HTTPImageFetcher loads gallery images addressed by http(s) URLs
type HTTPImageFetcher struct {
	client   *http.Client
	maxBytes int64
	// backoff is multiplied by the attempt number between retries
	backoff time.Duration
}

// NewHTTPImageFetcher creates an HTTP image fetcher
func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Transport sized for one image download at a time
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPImageFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,

			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes: maxBytes,
		backoff:  time.Second,
	}
}

func (h *HTTPImageFetcher) Open(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid URL", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Go-Photo-Cropper/1.0")

	// Only transient failures (network, 5xx) are retried
	var resp *http.Response
	var lastErr error
	var clientStatus int

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		resp, err = h.client.Do(req)

		if err != nil {
			lastErr = err
		}

		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}

		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				clientStatus = resp.StatusCode
				lastErr = fmt.Errorf("client error: status code %d", resp.StatusCode)
				resp = nil
				break
			}
			lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
			resp = nil
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < fetchAttempts-1 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt+1) * h.backoff):
			}
		}
	}

	if resp == nil {
		return nil, fetchError(ctx, clientStatus, lastErr)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, h.maxBytes)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewNetworkError("failed to read image body", err)
	}
	return data, nil
}

func fetchError(ctx context.Context, status int, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("unknown error")
	}
	cause = fmt.Errorf("failed to fetch image after %d attempts: %w", fetchAttempts, cause)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return apperrors.NewTimeoutError("image fetch timeout", cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewPermissionError("access to image denied", cause)
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperrors.NewNotFoundError("image not found", cause)
	default:
		return apperrors.NewNetworkError("failed to fetch image", cause)
	}
}
