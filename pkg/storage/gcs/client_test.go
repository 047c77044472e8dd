package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var signedAt = time.Date(2026, 5, 4, 13, 7, 9, 0, time.UTC)

func signingClient(t *testing.T) (*Client, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Client{
		http:   &http.Client{},
		bucket: "tradeline-receipts",
		signer: &urlSigner{email: "receipts@tradeline.iam.gserviceaccount.com", key: key},
		now:    func() time.Time { return signedAt },
	}, key
}

func TestSignedReadURLIsV4Signed(t *testing.T) {
	client, key := signingClient(t)
	object := "receipts/2026/05/TLP-8K2M4Q7W1Z3X.txt"

	raw, err := client.SignedReadURL("", object, 15*time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, storageHostname, parsed.Host)
	assert.Equal(t, "/tradeline-receipts/"+object, parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "GOOG4-RSA-SHA256", q.Get("X-Goog-Algorithm"))
	assert.Equal(t, "receipts@tradeline.iam.gserviceaccount.com/20260504/auto/storage/goog4_request", q.Get("X-Goog-Credential"))
	assert.Equal(t, "20260504T130709Z", q.Get("X-Goog-Date"))
	assert.Equal(t, "900", q.Get("X-Goog-Expires"))
	assert.Equal(t, "host", q.Get("X-Goog-SignedHeaders"))

	canonical := "GET\n" +
		"/tradeline-receipts/" + object + "\n" +
		"X-Goog-Algorithm=GOOG4-RSA-SHA256" +
		"&X-Goog-Credential=receipts%40tradeline.iam.gserviceaccount.com%2F20260504%2Fauto%2Fstorage%2Fgoog4_request" +
		"&X-Goog-Date=20260504T130709Z&X-Goog-Expires=900&X-Goog-SignedHeaders=host\n" +
		"host:storage.googleapis.com\n\n" +
		"host\n" +
		"UNSIGNED-PAYLOAD"
	requestHash := sha256.Sum256([]byte(canonical))
	toSign := "GOOG4-RSA-SHA256\n20260504T130709Z\n20260504/auto/storage/goog4_request\n" + hex.EncodeToString(requestHash[:])
	digest := sha256.Sum256([]byte(toSign))

	sig, err := hex.DecodeString(q.Get("X-Goog-Signature"))
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestSignedReadURLRejects(t *testing.T) {
	client, _ := signingClient(t)
	cases := map[string]struct {
		object string
		ttl    time.Duration
	}{
		"missing object":    {"", time.Minute},
		"negative ttl":      {"r.txt", -time.Minute},
		"sub-second ttl":    {"r.txt", time.Millisecond},
		"ttl beyond a week": {"r.txt", 8 * 24 * time.Hour},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.SignedReadURL("", tc.object, tc.ttl)
			assert.Error(t, err)
		})
	}

	client.signer = nil
	_, err := client.SignedReadURL("", "r.txt", time.Minute)
	assert.ErrorIs(t, err, errCannotSign)

	_, err = (*Client)(nil).SignedReadURL("b", "r.txt", time.Minute)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

// newHTTPTestClient authenticates through a real oauth2 transport with a
// static token.
func newHTTPTestClient(fn roundTripFunc) *Client {
	return &Client{
		bucket: "tradeline-receipts",
		http: &http.Client{Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token"}),
			Base:   fn,
		}},
		now: time.Now,
	}
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestUploadObject(t *testing.T) {
	var got *http.Request
	var body string
	client := newHTTPTestClient(func(req *http.Request) *http.Response {
		got = req
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		return response(http.StatusOK, `{"kind":"storage#object"}`)
	})

	objectURL, err := client.UploadObject(context.Background(), "", "receipts/r.txt", "text/plain; charset=utf-8", []byte("receipt"))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/tradeline-receipts/receipts/r.txt", objectURL)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "media", got.URL.Query().Get("uploadType"))
	assert.Equal(t, "receipts/r.txt", got.URL.Query().Get("name"))
	assert.Equal(t, "text/plain; charset=utf-8", got.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer token", got.Header.Get("Authorization"))
	assert.Equal(t, "receipt", body)

	bucket, object, err := ParseObjectURL(objectURL)
	require.NoError(t, err)
	assert.Equal(t, "tradeline-receipts", bucket)
	assert.Equal(t, "receipts/r.txt", object)
}

func TestUploadObjectSurfacesGCSMessage(t *testing.T) {
	client := newHTTPTestClient(func(*http.Request) *http.Response {
		return response(http.StatusForbidden, `{"error":{"message":"does not have storage.objects.create access"}}`)
	})
	_, err := client.UploadObject(context.Background(), "", "receipts/r.txt", "", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.objects.create")
}

func TestDeleteObjectToleratesMissing(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		client := newHTTPTestClient(func(req *http.Request) *http.Response {
			assert.Equal(t, http.MethodDelete, req.Method)
			assert.Equal(t, "/storage/v1/b/other-bucket/o/receipts%2Fr.txt", req.URL.EscapedPath())
			return response(status, "")
		})
		assert.NoError(t, client.DeleteObject(context.Background(), "other-bucket", "receipts/r.txt"), status)
	}

	failing := newHTTPTestClient(func(*http.Request) *http.Response { return response(http.StatusInternalServerError, "") })
	assert.Error(t, failing.DeleteObject(context.Background(), "", "receipts/r.txt"))
}

func TestPing(t *testing.T) {
	client := newHTTPTestClient(func(req *http.Request) *http.Response {
		assert.Equal(t, "1", req.URL.Query().Get("maxResults"))
		return response(http.StatusOK, `{"kind":"storage#objects"}`)
	})
	assert.NoError(t, client.Ping(context.Background()))

	denied := newHTTPTestClient(func(*http.Request) *http.Response { return response(http.StatusForbidden, "") })
	assert.Error(t, denied.Ping(context.Background()))

	assert.ErrorIs(t, (&Client{}).Ping(context.Background()), ErrNotInitialized)
}

func TestParseObjectURLRejectsForeignURLs(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/bucket/object",
		"http://storage.googleapis.com/bucket/object",
		"https://storage.googleapis.com/bucket",
		"https://storage.googleapis.com//object",
	} {
		_, _, err := ParseObjectURL(raw)
		assert.Error(t, err, raw)
	}
}
