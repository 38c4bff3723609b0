// Package s3fake provides an in-process S3 REST endpoint for hermetic tests.
//
// The fake speaks the subset of the S3 API used by the object-store clients:
// GET/HEAD/PUT/DELETE object, PUT with x-amz-copy-source, and ListObjectsV2 with
// prefix, delimiter, max-keys and continuation tokens. Requests must carry a SigV4
// Authorization header; the signature itself is not verified.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    fake := s3fake.New(t, "bucket")
//	    fake.PutObject("dir/file.txt", []byte("hi"), "text/plain")
//	    fake.InjectFault(s3fake.Fault{Method: http.MethodGet, Key: "dir/file.txt", Status: 503, Times: 1})
//	    // ... point a client at fake.URL with path-style addressing ...
//	}
package s3fake

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Epoch is the fake clock's first timestamp.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	xmlNamespace    = "http://s3.amazonaws.com/doc/2006-03-01/"
	lastModifiedXML = "2006-01-02T15:04:05.000Z"
	defaultMaxKeys  = 1000
)

// Fault makes matching requests fail.
type Fault struct {
	// Method matches the HTTP method; empty matches any.
	Method string

	// Key matches the object key (or list prefix); empty matches any.
	Key string

	// Status is the HTTP status to return. A 200 with a Code produces an
	// <Error> document in a success response, as S3 does for failed copies.
	Status int

	// Code is the S3 error code placed in the response body.
	Code string

	// Times limits how many requests the fault applies to; zero means every request.
	Times int

	// Delay is slept before responding.
	Delay time.Duration
}

// Request records a request received by the fake.
type Request struct {
	Method        string
	Key           string
	Query         url.Values
	CopySource    string
	AccessKeyID   string
	SecurityToken string
	ContentType   string
}

type object struct {
	body         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

type fault struct {
	Fault
	remaining int
}

// Server is an in-process S3 endpoint serving a single bucket.
type Server struct {
	*httptest.Server

	bucket string

	mu       sync.Mutex
	objects  map[string]*object
	faults   []*fault
	requests []Request
	denied   map[string]bool
	clock    time.Time
}

// New starts a fake serving bucket and registers cleanup with t.
func New(t testing.TB, bucket string) *Server {
	t.Helper()
	s := &Server{
		bucket:  bucket,
		objects: make(map[string]*object),
		denied:  make(map[string]bool),
		clock:   Epoch,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Bucket returns the served bucket name.
func (s *Server) Bucket() string {
	return s.bucket
}

// PutObject stores an object directly, bypassing HTTP.
func (s *Server) PutObject(key string, body []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(key, body, contentType)
}

// Object returns a stored body.
func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.body...), true
}

// ContentType returns the stored content type for key.
func (s *Server) ContentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		return obj.contentType
	}
	return ""
}

// Has reports whether key is stored.
func (s *Server) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Keys returns every stored key in lexical order.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedKeysLocked("")
}

// InjectFault registers a fault. Faults are matched in registration order.
func (s *Server) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{Fault: f, remaining: f.Times})
}

// ClearFaults removes all registered faults.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// DenyAccessKey makes every request signed with accessKeyID fail with 403.
func (s *Server) DenyAccessKey(accessKeyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[accessKeyID] = true
}

// Requests returns a copy of every request received.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests used method.
// A PUT carrying x-amz-copy-source counts as method "COPY".
func (s *Server) Count(method string) int {
	return s.CountFor(method, "")
}

// CountFor returns how many requests used method on key; empty key matches any.
func (s *Server) CountFor(method, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		m := r.Method
		if m == http.MethodPut && r.CopySource != "" {
			m = "COPY"
		}
		if m == method && (key == "" || r.Key == key) {
			n++
		}
	}
	return n
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	key, ok := s.parsePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist", r.Method)
		return
	}

	accessKeyID, authOK := parseAuthorization(r.Header.Get("Authorization"))
	rec := Request{
		Method:        r.Method,
		Key:           key,
		Query:         r.URL.Query(),
		CopySource:    r.Header.Get("X-Amz-Copy-Source"),
		AccessKeyID:   accessKeyID,
		SecurityToken: r.Header.Get("X-Amz-Security-Token"),
		ContentType:   r.Header.Get("Content-Type"),
	}
	if r.Method == http.MethodGet && rec.Query.Has("list-type") {
		rec.Key = rec.Query.Get("prefix")
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	denied := s.denied[accessKeyID]
	f := s.matchFaultLocked(r.Method, rec.Key)
	s.mu.Unlock()

	if f != nil {
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if f.Status != 0 {
			writeFault(w, r.Method, f.Fault)
			return
		}
	}

	if !authOK || r.Header.Get("X-Amz-Content-Sha256") == "" || r.Header.Get("X-Amz-Date") == "" {
		writeError(w, http.StatusForbidden, "AccessDenied", "Missing or malformed SigV4 authorization", r.Method)
		return
	}
	if denied {
		writeError(w, http.StatusForbidden, "InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist in our records.", r.Method)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if rec.Query.Has("list-type") {
			s.handleList(w, rec.Query)
			return
		}
		s.handleGet(w, key, true)
	case http.MethodHead:
		s.handleGet(w, key, false)
	case http.MethodPut:
		if rec.CopySource != "" {
			s.handleCopy(w, key, rec.CopySource)
			return
		}
		s.handlePut(w, r, key)
	case http.MethodDelete:
		s.mu.Lock()
		delete(s.objects, key)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "The specified method is not allowed", r.Method)
	}
}

func (s *Server) parsePath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == s.bucket {
		return "", true
	}
	if !strings.HasPrefix(trimmed, s.bucket+"/") {
		return "", false
	}
	return strings.TrimPrefix(trimmed, s.bucket+"/"), true
}

func (s *Server) matchFaultLocked(method, key string) *fault {
	for _, f := range s.faults {
		if f.Method != "" && f.Method != method {
			continue
		}
		if f.Key != "" && f.Key != key {
			continue
		}
		if f.Times > 0 {
			if f.remaining == 0 {
				continue
			}
			f.remaining--
		}
		return f
	}
	return nil
}

func (s *Server) storeLocked(key string, body []byte, contentType string) *object {
	sum := md5.Sum(body)
	s.clock = s.clock.Add(time.Second)
	obj := &object{
		body:         append([]byte(nil), body...),
		contentType:  contentType,
		etag:         hex.EncodeToString(sum[:]),
		lastModified: s.clock,
	}
	s.objects[key] = obj
	return obj
}

func (s *Server) handleGet(w http.ResponseWriter, key string, withBody bool) {
	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", methodFor(withBody))
		return
	}
	setObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	if withBody {
		_, _ = w.Write(obj.body)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error(), r.Method)
		return
	}
	if want := r.Header.Get("X-Amz-Content-Sha256"); isHexDigest(want) {
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != want {
			writeError(w, http.StatusBadRequest, "XAmzContentSHA256Mismatch", "The provided 'x-amz-content-sha256' header does not match what was computed.", r.Method)
			return
		}
	}
	s.mu.Lock()
	obj := s.storeLocked(key, body, r.Header.Get("Content-Type"))
	s.mu.Unlock()
	w.Header().Set("ETag", `"`+obj.etag+`"`)
	w.WriteHeader(http.StatusOK)
}

type copyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	XMLNS        string   `xml:"xmlns,attr"`
	LastModified string   `xml:"LastModified"`
	ETag         string   `xml:"ETag"`
}

func (s *Server) handleCopy(w http.ResponseWriter, key, source string) {
	raw, _, _ := strings.Cut(strings.TrimPrefix(source, "/"), "?")
	src, err := url.PathUnescape(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "Invalid copy source encoding", http.MethodPut)
		return
	}
	bucket, srcKey, found := strings.Cut(src, "/")
	if !found || bucket != s.bucket {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist", http.MethodPut)
		return
	}

	s.mu.Lock()
	obj, ok := s.objects[srcKey]
	var copied *object
	if ok {
		copied = s.storeLocked(key, obj.body, obj.contentType)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", http.MethodPut)
		return
	}
	writeXML(w, http.StatusOK, copyObjectResult{
		XMLNS:        xmlNamespace,
		LastModified: copied.lastModified.Format(lastModifiedXML),
		ETag:         `"` + copied.etag + `"`,
	})
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	XMLNS                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	MaxKeys               int            `xml:"MaxKeys"`
	KeyCount              int            `xml:"KeyCount"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listContents `xml:"Contents"`
	CommonPrefixes        []listPrefix   `xml:"CommonPrefixes"`
}

func (s *Server) handleList(w http.ResponseWriter, q url.Values) {
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	maxKeys := defaultMaxKeys
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "InvalidArgument", "Invalid max-keys", http.MethodGet)
			return
		}
		maxKeys = n
	}

	after := ""
	token := q.Get("continuation-token")
	if token != "" {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", "The continuation token provided is incorrect", http.MethodGet)
			return
		}
		after = string(decoded)
	}

	s.mu.Lock()
	keys := s.sortedKeysLocked(prefix)
	objects := make(map[string]*object, len(keys))
	for _, k := range keys {
		objects[k] = s.objects[k]
	}
	s.mu.Unlock()

	result := listBucketResult{
		XMLNS:             xmlNamespace,
		Name:              s.bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		MaxKeys:           maxKeys,
		ContinuationToken: token,
	}

	last := ""
	lastPrefix := ""
	for _, k := range keys {
		entry := k
		isPrefix := false
		if delimiter != "" {
			if i := strings.Index(k[len(prefix):], delimiter); i >= 0 {
				entry = k[:len(prefix)+i+len(delimiter)]
				isPrefix = true
			}
		}
		if entry <= after || (isPrefix && entry == lastPrefix) {
			continue
		}
		if result.KeyCount == maxKeys {
			result.IsTruncated = true
			result.NextContinuationToken = base64.StdEncoding.EncodeToString([]byte(last))
			break
		}
		if isPrefix {
			result.CommonPrefixes = append(result.CommonPrefixes, listPrefix{Prefix: entry})
			lastPrefix = entry
		} else {
			obj := objects[k]
			result.Contents = append(result.Contents, listContents{
				Key:          k,
				LastModified: obj.lastModified.Format(lastModifiedXML),
				ETag:         `"` + obj.etag + `"`,
				Size:         int64(len(obj.body)),
				StorageClass: "STANDARD",
			})
		}
		last = entry
		result.KeyCount++
	}

	writeXML(w, http.StatusOK, result)
}

func (s *Server) sortedKeysLocked(prefix string) []string {
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

func writeFault(w http.ResponseWriter, method string, f Fault) {
	code := f.Code
	if code == "" {
		code = defaultCode(f.Status)
	}
	writeError(w, f.Status, code, "injected fault", method)
}

func writeError(w http.ResponseWriter, status int, code, message, method string) {
	w.Header().Set("X-Amz-Request-Id", "FAKE"+strconv.Itoa(status))
	if method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeXML(w, status, errorDocument{Code: code, Message: message, RequestID: "FAKE" + strconv.Itoa(status)})
}

func writeXML(w http.ResponseWriter, status int, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func setObjectHeaders(w http.ResponseWriter, obj *object) {
	h := w.Header()
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("ETag", `"`+obj.etag+`"`)
	h.Set("Last-Modified", obj.lastModified.Format(http.TimeFormat))
}

func defaultCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NoSuchKey"
	case http.StatusForbidden:
		return "AccessDenied"
	case http.StatusTooManyRequests:
		return "SlowDown"
	case http.StatusServiceUnavailable:
		return "ServiceUnavailable"
	case http.StatusOK, http.StatusInternalServerError:
		return "InternalError"
	default:
		return fmt.Sprintf("Status%d", status)
	}
}

func methodFor(withBody bool) string {
	if withBody {
		return http.MethodGet
	}
	return http.MethodHead
}

// parseAuthorization extracts the access key id from a SigV4 Authorization header.
func parseAuthorization(header string) (string, bool) {
	const prefix = "AWS4-HMAC-SHA256 "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	_, cred, ok := strings.Cut(header, "Credential=")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(cred, "/")
	if !ok || id == "" {
		return "", false
	}
	if !strings.Contains(header, "Signature=") || !strings.Contains(header, "SignedHeaders=") {
		return "", false
	}
	return id, true
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
