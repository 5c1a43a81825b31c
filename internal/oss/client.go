package oss

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/oss/signer"
	"github.com/nodeforge/modelgate/internal/resilience"
)

const (
	GetObjectRangeSize       = 16 * 1024 * 1024
	PutObjectMaxSize         = 512 * 1024 * 1024
	MultipartUploadThreshold = 16 * 1024 * 1024
	MultipartUploadPartSize  = 4 * 1024 * 1024
	MultipartUploadWorkers   = 3

	// 3 retries = 4 attempts total.
	rangeDownloadAttempts = 4
	partUploadAttempts    = 4
)

var endpointRegion = regexp.MustCompile(`oss-(.*?)(-internal)?\.aliyuncs\.com`)

// ErrInvalidObjectName rejects object names that would escape the
// configured key prefix.
var ErrInvalidObjectName = errors.New("object name must not contain a path separator")

// MultipartUploadPart is one completed part of a multipart upload: the
// 1-based part number and the ETag the server echoed back for it.
type MultipartUploadPart struct {
	PartNumber int
	ETag       string
}

// Client is the Aliyun-OSS-compatible object store client.
type Client struct {
	httpClient *http.Client
	cfg        config.OSSConfig
	region     string
	log        logger.Logger
}

// New builds a Client, extracting the signing region from cfg.Endpoint
// per the "oss-(.*?)(-internal)?.aliyuncs.com" pattern. An endpoint
// that fails the pattern is a configuration error.
func New(cfg config.OSSConfig, log logger.Logger) (*Client, error) {
	match := endpointRegion.FindStringSubmatch(cfg.Endpoint)
	if match == nil {
		return nil, fmt.Errorf("invalid oss endpoint %q: must match oss-<region>[-internal].aliyuncs.com", cfg.Endpoint)
	}
	if log == nil {
		log = logger.Noop
	}
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		cfg:        cfg,
		region:     match[1],
		log:        log.With(map[string]interface{}{"component": "oss"}),
	}, nil
}

func (c *Client) buildKey(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid object name %q: %w", name, ErrInvalidObjectName)
	}
	prefix := strings.Trim(c.cfg.Prefix, "/")
	if prefix == "" {
		return "/" + name, nil
	}
	return "/" + prefix + "/" + name, nil
}

func (c *Client) host() string {
	return c.cfg.Bucket + "." + c.cfg.Endpoint
}

// request signs and sends one OSS HTTP call. Any non-2xx status is
// surfaced as an error carrying the response body.
func (c *Client) request(ctx context.Context, method, key string, query map[string]string, headers http.Header, body io.Reader, contentLength int64) (*http.Response, error) {
	if headers == nil {
		headers = http.Header{}
	}

	additional := make([]string, 0, len(headers))
	for name := range headers {
		additional = append(additional, strings.ToLower(name))
	}
	sort.Strings(additional)

	host := c.host()
	now := time.Now().UTC()
	headers.Set("Host", host)
	headers.Set("Date", now.Format(http.TimeFormat))
	headers.Set("x-oss-date", now.Format("20060102T150405Z"))
	headers.Set("x-oss-content-sha256", "UNSIGNED-PAYLOAD")

	rawURL := "http://" + host + signer.PercentEncodePath(key)
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v := query[k]
			if v == "" {
				parts = append(parts, signer.PercentEncode(k))
			} else {
				parts = append(parts, signer.PercentEncode(k)+"="+signer.PercentEncode(v))
			}
		}
		rawURL += "?" + strings.Join(parts, "&")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build oss request: %w", err)
	}
	req.Header = headers
	req.Host = host
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	auth, err := signer.Authorize(signer.Request{
		Method:            method,
		Bucket:            c.cfg.Bucket,
		Key:               key,
		Query:             query,
		Headers:           headers,
		AdditionalHeaders: additional,
	}, signer.Credentials{AccessKeyID: c.cfg.AccessKeyID, AccessKeySecret: c.cfg.AccessKeySecret}, c.region)
	if err != nil {
		return nil, fmt.Errorf("sign oss request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oss request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oss request failed (%d %s %s): %s", resp.StatusCode, method, key, string(respBody))
	}
	return resp, nil
}

func (c *Client) headObject(ctx context.Context, key string) (ObjectMeta, error) {
	// Implemented as a bare GET with no Range header rather than a HEAD
	// verb: the response body is discarded unread and only its headers
	// are used.
	resp, err := c.request(ctx, http.MethodGet, key, nil, http.Header{}, nil, 0)
	if err != nil {
		return ObjectMeta{}, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return ObjectMeta{}, fmt.Errorf("oss response missing Content-Type header")
	}
	contentLengthStr := resp.Header.Get("Content-Length")
	if contentLengthStr == "" {
		return ObjectMeta{}, fmt.Errorf("oss response missing Content-Length header")
	}
	contentLength, err := strconv.ParseInt(contentLengthStr, 10, 64)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("parse Content-Length %q: %w", contentLengthStr, err)
	}
	return ObjectMeta{ContentType: contentType, ContentLength: contentLength}, nil
}

// GetObject returns a reader over name's bytes, fetched via successive
// GetObjectRangeSize-sized byte-range GETs with per-range retry. If
// every retry for a range is exhausted the reader simply reaches EOF
// early rather than surfacing an error: the caller observes a short
// read.
//
// A retried range resends the whole range from its start, so a chunk
// error partway through a range that had already flushed earlier bytes
// to the reader can duplicate those bytes on retry.
func (c *Client) GetObject(ctx context.Context, name string) (io.ReadCloser, ObjectMeta, error) {
	key, err := c.buildKey(name)
	if err != nil {
		return nil, ObjectMeta{}, err
	}
	meta, err := c.headObject(ctx, key)
	if err != nil {
		return nil, ObjectMeta{}, err
	}

	pr, pw := io.Pipe()
	go c.streamObject(ctx, key, meta.ContentLength, pw)
	return pr, meta, nil
}

func (c *Client) streamObject(ctx context.Context, key string, contentLength int64, pw *io.PipeWriter) {
	defer pw.Close()

	for start := int64(0); start < contentLength; start += GetObjectRangeSize {
		end := start + GetObjectRangeSize - 1
		if end > contentLength-1 {
			end = contentLength - 1
		}

		rangeStart, rangeEnd := start, end
		err := resilience.Do(ctx, rangeDownloadAttempts, resilience.LinearSeconds, func() error {
			return c.copyRange(ctx, key, rangeStart, rangeEnd, pw)
		})
		if err != nil {
			c.log.WarnContext(ctx, "range download exhausted retries, truncating stream", map[string]interface{}{
				"key": key, "start": rangeStart, "end": rangeEnd, "error": err.Error(),
			})
			return
		}
	}
}

func (c *Client) copyRange(ctx context.Context, key string, start, end int64, w io.Writer) error {
	headers := http.Header{}
	headers.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := c.request(ctx, http.MethodGet, key, nil, headers, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream range bytes=%d-%d: %w", start, end, err)
	}
	return nil
}

// PutObject uploads body as name = "<uuid>.<ext-from-content-type>",
// single-PUT when meta.ContentLength is within MultipartUploadThreshold
// and multipart otherwise.
func (c *Client) PutObject(ctx context.Context, body io.Reader, meta ObjectMeta) (string, error) {
	ext, err := meta.Extension()
	if err != nil {
		return "", err
	}
	name := uuid.NewString() + "." + ext
	key, err := c.buildKey(name)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("Content-Type", meta.ContentType)
	headers.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.QueryEscape(name)))

	if meta.ContentLength <= MultipartUploadThreshold {
		if err := c.putSingle(ctx, key, body, headers); err != nil {
			return "", err
		}
		return name, nil
	}

	if err := c.multipartUpload(ctx, key, body, headers); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Client) putSingle(ctx context.Context, key string, body io.Reader, headers http.Header) error {
	data, err := io.ReadAll(io.LimitReader(body, MultipartUploadThreshold))
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	resp, err := c.request(ctx, http.MethodPut, key, nil, headers, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) multipartUpload(ctx context.Context, key string, body io.Reader, headers http.Header) error {
	uploadID, err := c.initiateMultipartUpload(ctx, key, headers)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, MultipartUploadWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var parts []MultipartUploadPart
	var firstErr error

	spawn := func(partNumber int, chunk []byte) {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			part, err := c.uploadPart(ctx, key, uploadID, partNumber, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			parts = append(parts, part)
		}()
	}

	reader := io.LimitReader(body, PutObjectMaxSize)
	readBuf := make([]byte, 256*1024)
	var buf []byte
	partNumber := 0
	var readErr error

	for {
		n, err := reader.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			for len(buf) >= MultipartUploadPartSize {
				partNumber++
				chunk := make([]byte, MultipartUploadPartSize)
				copy(chunk, buf[:MultipartUploadPartSize])
				spawn(partNumber, chunk)
				remainder := make([]byte, len(buf)-MultipartUploadPartSize)
				copy(remainder, buf[MultipartUploadPartSize:])
				buf = remainder
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = fmt.Errorf("read upload body: %w", err)
			}
			break
		}
	}

	if readErr == nil && len(buf) > 0 {
		partNumber++
		final := make([]byte, len(buf))
		copy(final, buf)
		spawn(partNumber, final)
	}

	wg.Wait()

	if readErr != nil {
		c.abortMultipartUpload(ctx, key, uploadID)
		return readErr
	}
	if firstErr != nil {
		c.abortMultipartUpload(ctx, key, uploadID)
		return fmt.Errorf("multipart upload failed, aborted: %w", firstErr)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return c.completeMultipartUpload(ctx, key, uploadID, parts)
}

func (c *Client) uploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (MultipartUploadPart, error) {
	var result MultipartUploadPart
	err := resilience.Do(ctx, partUploadAttempts, resilience.LinearSeconds, func() error {
		query := map[string]string{"uploadId": uploadID, "partNumber": strconv.Itoa(partNumber)}
		resp, err := c.request(ctx, http.MethodPut, key, query, http.Header{}, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		etag := resp.Header.Get("ETag")
		if etag == "" {
			return fmt.Errorf("oss response missing ETag header")
		}
		result = MultipartUploadPart{PartNumber: partNumber, ETag: etag}
		return nil
	})
	if err != nil {
		return MultipartUploadPart{}, fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	return result, nil
}

type initiateMultipartUploadResult struct {
	UploadID string `xml:"UploadId"`
}

func (c *Client) initiateMultipartUpload(ctx context.Context, key string, headers http.Header) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, key, map[string]string{"uploads": ""}, headers, nil, 0)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read initiate multipart upload response: %w", err)
	}

	var result initiateMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse initiate multipart upload response: %w", err)
	}
	if result.UploadID == "" {
		return "", fmt.Errorf("initiate multipart upload response missing UploadId")
	}
	return result.UploadID, nil
}

// abortMultipartUpload issues DELETE key?uploadId=... best-effort so a
// failed upload does not leave orphaned parts accruing storage cost.
func (c *Client) abortMultipartUpload(ctx context.Context, key, uploadID string) {
	resp, err := c.request(ctx, http.MethodDelete, key, map[string]string{"uploadId": uploadID}, http.Header{}, nil, 0)
	if err != nil {
		c.log.WarnContext(ctx, "abort multipart upload failed", map[string]interface{}{"key": key, "upload_id": uploadID, "error": err.Error()})
		return
	}
	resp.Body.Close()
}

type completeMultipartUploadPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUploadBody struct {
	XMLName xml.Name                      `xml:"CompleteMultipartUpload"`
	Parts   []completeMultipartUploadPart `xml:"Part"`
}

func (c *Client) completeMultipartUpload(ctx context.Context, key, uploadID string, parts []MultipartUploadPart) error {
	body := completeMultipartUploadBody{Parts: make([]completeMultipartUploadPart, len(parts))}
	for i, p := range parts {
		body.Parts[i] = completeMultipartUploadPart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	payload, err := xml.MarshalIndent(body, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal complete multipart upload body: %w", err)
	}

	resp, err := c.request(ctx, http.MethodPost, key, map[string]string{"uploadId": uploadID}, http.Header{}, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
