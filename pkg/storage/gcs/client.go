// Package gcs stores receipt documents in Cloud Storage through the JSON API
// and hands out short-lived signed links to them.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const (
	storageHostname = "storage.googleapis.com"
	storageHost     = "https://" + storageHostname
	requestTimeout  = 10 * time.Second
	pingTimeout     = 5 * time.Second
	errBodyLimit    = 2048
)

var (
	ErrNotInitialized = errors.New("gcs client not initialized")
	errBucketRequired = errors.New("gcs bucket is required")
	errObjectRequired = errors.New("gcs object name is required")
)

type Client struct {
	http   *http.Client
	bucket string
	// nil when running on metadata credentials, which cannot sign
	signer *urlSigner
	now    func() time.Time
}

// NewClient authenticates with the configured service account, or the
// metadata server when none is configured, and checks the bucket is listable.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errBucketRequired
	}
	tokens, signer, err := loadCredentials(ctx, gcp)
	if err != nil {
		return nil, err
	}
	c := &Client{
		http:   &http.Client{Timeout: requestTimeout, Transport: &oauth2.Transport{Source: tokens}},
		bucket: cfg.BucketName,
		signer: signer,
		now:    time.Now,
	}
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check: %w", err)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"bucket": c.bucket, "can_sign": signer != nil}), "gcs client initialized")
	return c, nil
}

func (c *Client) Close() error { return nil }

// Ping lists at most one object, which needs storage.objects.list on the
// bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.http == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/storage/v1/b/%s/o?maxResults=1&fields=kind", storageHost, url.PathEscape(c.bucket))
	_, err := c.do(ctx, http.MethodGet, u, nil, "", http.StatusOK)
	return err
}

// UploadObject writes body with a single media upload and returns the
// object's canonical URL.
func (c *Client) UploadObject(ctx context.Context, bucket, object, contentType string, body []byte) (string, error) {
	bucket, object, err := c.target(bucket, object)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		storageHost, url.PathEscape(bucket), url.QueryEscape(object))
	if _, err := c.do(ctx, http.MethodPost, u, body, contentType, http.StatusOK, http.StatusCreated); err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return ObjectURL(bucket, object), nil
}

// DeleteObject treats an already missing object as deleted.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	bucket, object, err := c.target(bucket, object)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", storageHost, url.PathEscape(bucket), url.PathEscape(object))
	if _, err := c.do(ctx, http.MethodDelete, u, nil, "", http.StatusOK, http.StatusNoContent, http.StatusNotFound); err != nil {
		return fmt.Errorf("delete %s: %w", object, err)
	}
	return nil
}

func (c *Client) target(bucket, object string) (string, string, error) {
	if c == nil || c.http == nil {
		return "", "", ErrNotInitialized
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		bucket = c.bucket
	}
	if bucket == "" {
		return "", "", errBucketRequired
	}
	if strings.TrimSpace(object) == "" {
		return "", "", errObjectRequired
	}
	return bucket, object, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, contentType string, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	for _, status := range accept {
		if resp.StatusCode == status {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errBodyLimit))
			return status, nil
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return resp.StatusCode, fmt.Errorf("gcs %s: %s: %s", method, resp.Status, text)
	}
	return resp.StatusCode, fmt.Errorf("gcs %s: %s", method, resp.Status)
}

// ObjectURL is the canonical https URL for an object.
func ObjectURL(bucket, object string) string {
	return storageHost + objectPath(bucket, object)
}

func objectPath(bucket, object string) string {
	return (&url.URL{Path: "/" + bucket + "/" + object}).EscapedPath()
}

// ParseObjectURL splits a URL produced by ObjectURL back into bucket and
// object.
func ParseObjectURL(raw string) (bucket, object string, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme != "https" || parsed.Host != storageHostname {
		return "", "", fmt.Errorf("not a storage url: %s", raw)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(parsed.Path, "/"), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("storage url missing object: %s", raw)
	}
	return bucket, object, nil
}
