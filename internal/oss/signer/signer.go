// Package signer computes Aliyun OSS v4 authorization headers: the
// canonical request, the derived signing key, and the final
// OSS4-HMAC-SHA256 Authorization value.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	algorithm  = "OSS4-HMAC-SHA256"
	serviceID  = "oss"
	requestTag = "aliyun_v4_request"
)

// Credentials identifies the signing principal.
type Credentials struct {
	AccessKeyID     string
	AccessKeySecret string
}

// Request carries everything needed to compute a v4 Authorization
// header value. Headers must already contain Date, x-oss-date, and
// x-oss-content-sha256 (and Content-Type/Content-MD5 when the caller
// sets them) before Authorize is called. Key is the already
// prefix-joined object key ("/prefix/name"), not yet percent-encoded.
// AdditionalHeaders is the lowercased set of header names the caller
// set on the request itself, collected before the standard headers
// (Host, Date, x-oss-*) are added.
type Request struct {
	Method            string
	Bucket            string
	Key               string
	Query             map[string]string
	Headers           http.Header
	AdditionalHeaders []string
}

// Authorize computes the "Authorization" header value for req.
func Authorize(req Request, creds Credentials, region string) (string, error) {
	dateTime := req.Headers.Get("x-oss-date")
	if dateTime == "" {
		return "", fmt.Errorf("missing request header x-oss-date")
	}
	signDate, _, ok := strings.Cut(dateTime, "T")
	if !ok {
		return "", fmt.Errorf("malformed x-oss-date %q", dateTime)
	}

	additional := dedupeSortedLower(req.AdditionalHeaders)

	scope := fmt.Sprintf("%s/%s/%s/%s", signDate, region, serviceID, requestTag)
	auth := fmt.Sprintf("%s Credential=%s/%s", algorithm, creds.AccessKeyID, scope)
	if len(additional) > 0 {
		auth += fmt.Sprintf(", AdditionalHeaders=%s", strings.Join(additional, ";"))
	}

	signature, err := signV4(req, creds, region, additional, dateTime, signDate)
	if err != nil {
		return "", err
	}
	auth += fmt.Sprintf(", Signature=%s", signature)
	return auth, nil
}

// CanonicalRequest builds the canonical request string for req,
// exported so callers (and tests) can inspect the exact bytes that
// get hashed into the signature.
func CanonicalRequest(req Request, additional []string) (string, error) {
	contentSHA256 := req.Headers.Get("x-oss-content-sha256")
	if contentSHA256 == "" {
		return "", fmt.Errorf("missing request header x-oss-content-sha256")
	}

	canonicalURI := PercentEncodePath("/" + req.Bucket + req.Key)
	canonicalQuery := canonicalQueryString(req.Query)
	canonicalHeaders := canonicalHeadersString(req.Headers, additional, contentSHA256)

	return strings.Join([]string{
		strings.ToUpper(req.Method),
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		"",
		strings.Join(additional, ";"),
		contentSHA256,
	}, "\n"), nil
}

func signV4(req Request, creds Credentials, region string, additional []string, dateTime, signDate string) (string, error) {
	canonicalRequest, err := CanonicalRequest(req, additional)
	if err != nil {
		return "", err
	}

	scope := fmt.Sprintf("%s/%s/%s/%s", signDate, region, serviceID, requestTag)
	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%x", algorithm, dateTime, scope, sha256.Sum256([]byte(canonicalRequest)))

	dateKey := hmacSHA256([]byte("aliyun_v4"+creds.AccessKeySecret), signDate)
	dateRegionKey := hmacSHA256(dateKey, region)
	dateRegionServiceKey := hmacSHA256(dateRegionKey, serviceID)
	signingKey := hmacSHA256(dateRegionServiceKey, requestTag)
	signature := hmacSHA256(signingKey, stringToSign)
	return hex.EncodeToString(signature), nil
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func canonicalQueryString(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := query[k]
		if v == "" {
			parts = append(parts, PercentEncode(k))
		} else {
			parts = append(parts, PercentEncode(k)+"="+PercentEncode(v))
		}
	}
	return strings.Join(parts, "&")
}

// canonicalHeadersString always signs x-oss-content-sha256, plus
// content-type/content-md5 only if the caller set them, plus every
// x-oss-* header, plus every header named in additional.
func canonicalHeadersString(headers http.Header, additional []string, contentSHA256 string) string {
	additionalSet := make(map[string]bool, len(additional))
	for _, h := range additional {
		additionalSet[h] = true
	}

	signed := map[string]string{"x-oss-content-sha256": contentSHA256}
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if lower == "content-type" || lower == "content-md5" || strings.HasPrefix(lower, "x-oss-") || additionalSet[lower] {
			signed[lower] = strings.TrimSpace(values[0])
		}
	}

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+":"+signed[k])
	}
	return strings.Join(lines, "\n")
}

func dedupeSortedLower(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		lower := strings.ToLower(strings.TrimSpace(h))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}

// PercentEncode percent-encodes s so every byte outside
// [A-Za-z0-9-_.~] is escaped with an uppercase-hex %XX sequence.
func PercentEncode(s string) string {
	const hextable = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteByte(hextable[c>>4])
			b.WriteByte(hextable[c&0xF])
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.' || c == '~'
}

// PercentEncodePath percent-encodes s the way PercentEncode does, then
// restores literal "/" separators: the "%2F -> /" fixup the Aliyun v4
// canonical-uri construction requires.
func PercentEncodePath(s string) string {
	return strings.ReplaceAll(PercentEncode(s), "%2F", "/")
}
