package oss

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/modelgate/internal/config"
)

func testConfig(endpoint string) config.OSSConfig {
	return config.OSSConfig{
		Prefix:          "media",
		Bucket:          "gatebucket",
		Endpoint:        endpoint,
		AccessKeyID:     "AK",
		AccessKeySecret: "SK",
	}
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	_, err := New(testConfig("not-an-oss-endpoint"), nil)
	require.Error(t, err)
}

func TestNew_ExtractsRegion(t *testing.T) {
	c, err := New(testConfig("oss-cn-hangzhou.aliyuncs.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, "cn-hangzhou", c.region)

	c, err = New(testConfig("oss-cn-beijing-internal.aliyuncs.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, "cn-beijing", c.region)
}

func TestBuildKey(t *testing.T) {
	c, err := New(testConfig("oss-cn-hangzhou.aliyuncs.com"), nil)
	require.NoError(t, err)

	key, err := c.buildKey("logo.png")
	require.NoError(t, err)
	assert.Equal(t, "/media/logo.png", key)

	_, err = c.buildKey("a/b.png")
	assert.ErrorIs(t, err, ErrInvalidObjectName)
	_, err = c.buildKey(`a\b.png`)
	assert.ErrorIs(t, err, ErrInvalidObjectName)
}

func TestObjectMeta_Extension(t *testing.T) {
	ext, err := ObjectMeta{ContentType: "application/pdf"}.Extension()
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)

	_, err = ObjectMeta{ContentType: "application/x-nonsense"}.Extension()
	assert.Error(t, err)
}

// fakeOSSServer serves enough of the Aliyun OSS HTTP surface to drive
// Client end to end: HEAD-as-GET (headers only), ranged GET, and
// single-PUT, checking that every request it receives carries the v4
// signature headers the real service would require.
func fakeOSSServer(t *testing.T, objects map[string][]byte, contentType string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "UNSIGNED-PAYLOAD", r.Header.Get("X-Oss-Content-Sha256"))

		key := r.URL.Path
		switch r.Method {
		case http.MethodGet:
			data, ok := objects[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			if rng := r.Header.Get("Range"); rng != "" {
				var start, end int
				fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
				if end >= len(data) {
					end = len(data) - 1
				}
				w.Write(data[start : end+1])
				return
			}
			// head_object: headers only, body left unread by the caller.
			w.Write(data)
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func TestGetObject_SmallSingleRange(t *testing.T) {
	payload := []byte("hello from the object store")
	srv := fakeOSSServer(t, map[string][]byte{"/media/greeting.txt": payload}, "text/plain")
	defer srv.Close()

	c, err := New(testConfig("oss-cn-hangzhou.aliyuncs.com"), nil)
	require.NoError(t, err)
	redirectToTestServer(t, c, srv)

	reader, meta, err := c.GetObject(context.Background(), "greeting.txt")
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "text/plain", meta.ContentType)
	assert.EqualValues(t, len(payload), meta.ContentLength)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// redirectToTestServer rewrites the client's request construction to
// target the httptest server's actual host instead of
// "<bucket>.<endpoint>", since httptest doesn't give us control over
// DNS. It does this by pointing the client at a RoundTripper that
// rewrites the outbound request's URL host/scheme, leaving every
// signed header untouched.
func redirectToTestServer(t *testing.T, c *Client, srv *httptest.Server) {
	t.Helper()
	target := srv.Listener.Addr().String()
	c.httpClient = &http.Client{Transport: rewriteHostTransport{base: http.DefaultTransport, host: target}}
}

type rewriteHostTransport struct {
	base http.RoundTripper
	host string
}

func (rt rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = rt.host
	return rt.base.RoundTrip(req)
}

func TestPutObject_SinglePut(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = io.ReadAll(r.Body)
		captured = r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig("oss-cn-hangzhou.aliyuncs.com"), nil)
	require.NoError(t, err)
	redirectToTestServer(t, c, srv)

	payload := bytes.Repeat([]byte("a"), 1024)
	name, err := c.PutObject(context.Background(), bytes.NewReader(payload), ObjectMeta{ContentType: "application/pdf", ContentLength: int64(len(payload))})
	require.NoError(t, err)

	assert.True(t, len(name) > 4 && name[len(name)-4:] == ".pdf")
	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPut, captured.Method)
	assert.Equal(t, payload, capturedBody)
	assert.NotEmpty(t, captured.Header.Get("Authorization"))
}

func TestPutObject_Multipart(t *testing.T) {
	const partSize = MultipartUploadPartSize
	total := partSize*4 + 1 // four full parts plus a one-byte remainder
	payload := bytes.Repeat([]byte("x"), total)

	var mu sync.Mutex
	var partCalls []int
	var completeBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(`<InitiateMultipartUploadResult><UploadId>up-123</UploadId></InitiateMultipartUploadResult>`))
		case r.Method == http.MethodPut && q.Get("uploadId") != "":
			n, _ := strconv.Atoi(q.Get("partNumber"))
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			partCalls = append(partCalls, n)
			mu.Unlock()
			w.Header().Set("ETag", fmt.Sprintf("etag-%d-%d", n, len(body)))
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && q.Get("uploadId") != "":
			completeBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c, err := New(testConfig("oss-cn-hangzhou.aliyuncs.com"), nil)
	require.NoError(t, err)
	redirectToTestServer(t, c, srv)

	name, err := c.PutObject(context.Background(), bytes.NewReader(payload), ObjectMeta{ContentType: "video/mp4", ContentLength: int64(total)})
	require.NoError(t, err)
	assert.Contains(t, name, ".mp4")

	sort.Ints(partCalls)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, partCalls)

	var complete completeMultipartUploadBody
	require.NoError(t, xml.Unmarshal(completeBody, &complete))
	require.Len(t, complete.Parts, 5)
	for i, p := range complete.Parts {
		assert.Equal(t, i+1, p.PartNumber, "parts must be ascending and contiguous")
	}
}
