package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store whose client talks to an in-memory fake
// transport instead of a real bucket. It implements the subset of the S3 API
// the blob core.Store surface needs: Head, Get, Put, Delete and ListObjectsV2.
func NewMockForTests() *Store {
	transport := &fakeS3Transport{objects: make(map[string]storedObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: transport}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://fake.s3.local")
	})
	return &Store{client: client, presign: s3.NewPresignClient(client), bucket: "artifacts-test"}
}

type storedObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// fakeS3Transport keeps objects in a plain map. Put keeps the first write for
// a key, matching the Head-probe create-only contract the store builds on it.
type fakeS3Transport struct {
	objects map[string]storedObject
}

func (f *fakeS3Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := objectKey(req.URL.Path)
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.listResponse(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return plainResponse(http.StatusNotFound), nil
		}
		return objectResponse(obj, false), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return plainResponse(http.StatusNotFound), nil
		}
		return objectResponse(obj, true), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if decoded, ok := unwrapChunked(body); ok {
			body = decoded
		}
		if _, exists := f.objects[key]; !exists {
			f.objects[key] = storedObject{
				data:        body,
				contentType: req.Header.Get("Content-Type"),
				metadata:    userMetadata(req.Header),
			}
		}
		resp := plainResponse(http.StatusOK)
		resp.Header.Set("ETag", `"put-etag"`)
		return resp, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return plainResponse(http.StatusNoContent), nil
	}
	return plainResponse(http.StatusNotImplemented), nil
}

func (f *fakeS3Transport) listResponse(prefix string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].data))
	}
	b.WriteString("</ListBucketResult>")
	resp := plainResponse(http.StatusOK)
	resp.Body = io.NopCloser(strings.NewReader(b.String()))
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}

func objectResponse(obj storedObject, withBody bool) *http.Response {
	resp := plainResponse(http.StatusOK)
	if withBody {
		resp.Body = io.NopCloser(bytes.NewReader(obj.data))
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(obj.data)))
	resp.Header.Set("Content-Type", obj.contentType)
	resp.Header.Set("ETag", `"fake-etag"`)
	resp.Header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	for k, v := range obj.metadata {
		resp.Header.Set("X-Amz-Meta-"+k, v)
	}
	return resp
}

func plainResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     http.Header{},
	}
}

// objectKey strips the path-style bucket segment from the request path.
func objectKey(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

func userMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for name, values := range h {
		if !strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.ToLower(name[len("x-amz-meta-"):])] = values[0]
	}
	return meta
}

// unwrapChunked extracts the payload from a single-chunk aws-chunked body:
// <hex-size>\r\n<payload>\r\n0\r\n...
func unwrapChunked(body []byte) ([]byte, bool) {
	parts := strings.Split(string(body), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}
