package core

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"coffer/internal/blob"
	"coffer/internal/checker"
	"coffer/internal/store"
)

const (
	userMetadataPrefix = "X-Amz-Meta-"
	defaultMaxKeys     = 1000
)

var (
	// Regex for validating S3 bucket names.
	// matches lowercase letters, digits, dots, and hyphens,
	// must start and end with a letter or digit, and must be between 3 and 63 characters long.
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

	// Subresources that are recognised but not served, keyed by query
	// parameter and mapped to the S3 operation name.
	bucketGetSubresources = map[string]string{
		"tagging":      "GetBucketTagging",
		"versioning":   "GetBucketVersioning",
		"versions":     "ListObjectVersions",
		"encryption":   "GetBucketEncryption",
		"cors":         "GetBucketCors",
		"lifecycle":    "GetBucketLifecycleConfiguration",
		"notification": "GetBucketNotificationConfiguration",
		"policy":       "GetBucketPolicy",
		"replication":  "GetBucketReplication",
		"uploads":      "ListMultipartUploads",
		"acl":          "GetBucketAcl",
	}
	bucketPutSubresources = map[string]string{
		"tagging":      "PutBucketTagging",
		"versioning":   "PutBucketVersioning",
		"encryption":   "PutBucketEncryption",
		"cors":         "PutBucketCors",
		"lifecycle":    "PutBucketLifecycleConfiguration",
		"notification": "PutBucketNotificationConfiguration",
		"policy":       "PutBucketPolicy",
		"replication":  "PutBucketReplication",
		"acl":          "PutBucketAcl",
	}
	bucketDeleteSubresources = map[string]string{
		"tagging":     "DeleteBucketTagging",
		"encryption":  "DeleteBucketEncryption",
		"cors":        "DeleteBucketCors",
		"lifecycle":   "DeleteBucketLifecycle",
		"policy":      "DeleteBucketPolicy",
		"replication": "DeleteBucketReplication",
	}
	objectGetSubresources = map[string]string{
		"tagging":    "GetObjectTagging",
		"attributes": "GetObjectAttributes",
		"uploadId":   "ListParts",
		"acl":        "GetObjectAcl",
	}
	objectPutSubresources = map[string]string{
		"tagging":  "PutObjectTagging",
		"uploadId": "UploadPart",
		"acl":      "PutObjectAcl",
	}
	objectDeleteSubresources = map[string]string{
		"tagging":  "DeleteObjectTagging",
		"uploadId": "AbortMultipartUpload",
	}
)

// Server serves the S3-subset HTTP API over a store.
type Server struct {
	Config  Config
	Store   *store.Store
	Checker *checker.Checker

	ownsStore bool
}

// NewServer opens the store (unless one was supplied in cfg) and prepares
// its consistency checker. The checker is not started; call
// Server.Checker.Run.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = DefaultMaxObjectSize
	}

	srv := &Server{Config: cfg, Store: cfg.Store}

	if srv.Store == nil {
		if cfg.DataDir == "" {
			return nil, errors.New("DataDir must not be empty")
		}

		s, err := store.Open(ctx, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		srv.Store = s
		srv.ownsStore = true
	}

	srv.Checker = checker.New(srv.Store, cfg.CheckInterval)
	return srv, nil
}

// Close releases the store if the server opened it.
func (s *Server) Close() error {
	if !s.ownsStore {
		return nil
	}
	return s.Store.Close()
}

// writeNotImplemented is a helper for stubbing unsupported S3 operations.
func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	message := op + " is not implemented."
	writeS3Error(w, r, "NotImplemented", message, http.StatusNotImplemented)
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, r *http.Request, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// writeInternalError writes a generic S3 InternalError response.
func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, r, "InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
}

// writeNoSuchBucketError writes a generic S3 NoSuchBucket error response.
func writeNoSuchBucketError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
}

// writeNoSuchKeyError writes a generic S3 NoSuchKey error response.
func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, r, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
}

// writeStoreError maps a store error onto the matching S3 error response.
// Anything unexpected is logged with args and reported as InternalError.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error, args ...any) {
	switch {
	case errors.Is(err, store.ErrBucketNotFound):
		writeNoSuchBucketError(w, r)
	case errors.Is(err, store.ErrObjectNotFound):
		writeNoSuchKeyError(w, r)
	case errors.Is(err, store.ErrBucketAlreadyExists):
		writeS3Error(w, r, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", http.StatusConflict)
	case errors.Is(err, blob.ErrInvalidKey):
		writeS3Error(w, r, "InvalidObjectName", "The specified key is not valid.", http.StatusBadRequest)
	case errors.Is(err, blob.ErrKeyConflict):
		writeS3Error(w, r, "XCofferKeyConflict", "The key conflicts with an existing key: one names a file where the other needs a directory.", http.StatusConflict)
	case errors.Is(err, store.ErrIntegrity):
		slog.Error(op, append(args, "err", err)...)
		writeS3Error(w, r, "XCofferIntegrityError", "The stored object failed its integrity check.", http.StatusInternalServerError)
	default:
		slog.Error(op, append(args, "err", err)...)
		writeInternalError(w, r)
	}
}

// isValidBucketName implements the standard S3 bucket naming rules for
// "virtual hosted-style" buckets.
func isValidBucketName(name string) bool {

	// Must consist only of lowercase letters, digits, dots, or hyphens,
	// and must start and end with a letter or digit.
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Bucket name must not be formatted as an IPv4 address.
	ip := net.ParseIP(name)
	return ip == nil
}

// isValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most 1024 bytes, and no control characters. The blob area applies
// its own path rules on top.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

// validateBucketNameOrError writes an S3 InvalidBucketName error and returns
// false if the provided name does not meet S3 bucket naming rules.
func validateBucketNameOrError(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if !isValidBucketName(bucket) {
		writeS3Error(w, r, "InvalidBucketName", "The specified bucket is not valid.", http.StatusBadRequest)
		return false
	}
	return true
}

// validateObjectKeyOrError writes an S3-style error for invalid object keys.
func validateObjectKeyOrError(w http.ResponseWriter, r *http.Request, key string) bool {
	if !isValidObjectKey(key) {
		writeS3Error(w, r, "InvalidObjectName", "The specified key is not valid.", http.StatusBadRequest)
		return false
	}
	return true
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// unsupportedSubresource returns the operation name of the first
// subresource in q that is listed in known.
func unsupportedSubresource(q url.Values, known map[string]string) (string, bool) {
	for param := range q {
		if op, ok := known[param]; ok {
			return op, true
		}
	}
	return "", false
}

// userMetadata collects x-amz-meta-* request headers, keyed by the
// lower-cased name without the prefix.
func userMetadata(h http.Header) map[string]string {
	var meta map[string]string
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if !strings.HasPrefix(canonical, userMetadataPrefix) || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.ToLower(strings.TrimPrefix(canonical, userMetadataPrefix))] = values[0]
	}
	return meta
}

// setObjectHeaders writes the metadata headers shared by GET and HEAD.
func setObjectHeaders(w http.ResponseWriter, info store.ObjectInfo) {
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", createETag(info.Hash))
	w.Header().Set("Accept-Ranges", "bytes")

	for name, value := range info.Metadata {
		w.Header().Set(userMetadataPrefix+name, value)
	}
}

func parseMaxKeys(q url.Values) int {
	maxKeys := defaultMaxKeys
	if raw := q.Get("max-keys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v < maxKeys {
			maxKeys = v
		}
	}
	return maxKeys
}

// listing is one page of a bucket listing.
type listing struct {
	contents    []ObjectSummary
	prefixes    []CommonPrefix
	isTruncated bool
	next        string
}

// listPage builds a page of at most maxKeys entries (objects plus common
// prefixes) from the keys after the given marker. A marker that is itself
// a common prefix skips every key under that prefix.
func (s *Server) listPage(ctx context.Context, bucket string, prefix string, delimiter string, after string, maxKeys int) (listing, error) {
	infos, err := s.Store.ListObjectInfo(ctx, bucket, store.ListOptions{Prefix: prefix, After: after})
	if err != nil {
		return listing{}, err
	}

	var (
		page       listing
		entryCount int
		lastEntry  string
		seen       = make(map[string]struct{})
	)

	skipPrefix := ""
	if delimiter != "" && strings.HasSuffix(after, delimiter) {
		skipPrefix = after
	}

	for _, info := range infos {
		if skipPrefix != "" && strings.HasPrefix(info.Key, skipPrefix) {
			continue
		}

		entry := info.Key
		isPrefix := false
		if delimiter != "" {
			rel := strings.TrimPrefix(info.Key, prefix)
			if idx := strings.Index(rel, delimiter); idx != -1 {
				entry = prefix + rel[:idx+len(delimiter)]
				isPrefix = true
			}
		}

		if isPrefix {
			if _, ok := seen[entry]; ok {
				continue
			}
		}

		if entryCount >= maxKeys {
			page.isTruncated = true
			break
		}
		entryCount++
		lastEntry = entry

		if isPrefix {
			seen[entry] = struct{}{}
			page.prefixes = append(page.prefixes, CommonPrefix{Prefix: entry})
			continue
		}

		page.contents = append(page.contents, ObjectSummary{
			Key:          info.Key,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
			ETag:         createETag(info.Hash),
			Size:         info.Size,
			StorageClass: "STANDARD",
		})
	}

	if page.isTruncated {
		page.next = lastEntry
	}
	return page, nil
}

// ------ Bucket-level HTTP handlers ------

// handleListBuckets implements GET / to list all buckets.
func (s *Server) handleListBuckets(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	buckets, err := s.Store.ListBuckets(ctx)
	if err != nil {
		writeStoreError(w, r, "List buckets", err)
		return
	}

	entries := make([]BucketEntry, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, BucketEntry{
			Name:         b.Name,
			CreationDate: b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	resp := ListAllMyBucketsResult{
		XMLNS: S3XMLNamespace,
		Owner: Owner{
			ID:          "coffer",
			DisplayName: "coffer",
		},
		Buckets: entries,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

// handleBucketPut implements PUT /bucket to create a new bucket.
func (s *Server) handleBucketPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	if op, ok := unsupportedSubresource(r.URL.Query(), bucketPutSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}

	if err := s.Store.CreateBucket(ctx, bucket); err != nil {
		writeStoreError(w, r, "Create bucket", err, "bucket", bucket)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

// handleBucketGet dispatches GET /bucket[?subresource] between the listing
// APIs and GetBucketLocation.
func (s *Server) handleBucketGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	if op, ok := unsupportedSubresource(q, bucketGetSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}

	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(ctx, w, r, bucket)
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(ctx, w, r, bucket)
	default:
		s.handleListObjects(ctx, w, r, bucket)
	}
}

// handleBucketHead implements HEAD /bucket.
func (s *Server) handleBucketHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	exists, err := s.Store.BucketExists(ctx, bucket)
	if err != nil {
		writeStoreError(w, r, "Bucket head", err, "bucket", bucket)
		return
	}
	if !exists {
		writeNoSuchBucketError(w, r)
		return
	}

	w.Header().Set("x-amz-bucket-region", s.Config.Region)
	w.WriteHeader(http.StatusOK)
}

// handleBucketDelete implements DELETE /bucket. The bucket's objects are
// removed with it.
func (s *Server) handleBucketDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	if op, ok := unsupportedSubresource(r.URL.Query(), bucketDeleteSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}

	if err := s.Store.DeleteBucket(ctx, bucket); err != nil {
		writeStoreError(w, r, "Delete bucket", err, "bucket", bucket)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBucketPost implements POST /bucket. No bucket POST operation is
// served.
func (s *Server) handleBucketPost(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	if r.URL.Query().Has("delete") {
		s.writeNotImplemented(w, r, "DeleteObjects")
		return
	}
	s.writeNotImplemented(w, r, "BucketPost")
}

// handleGetBucketLocation implements GET /bucket?location
func (s *Server) handleGetBucketLocation(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.Store.BucketExists(ctx, bucket)
	if err != nil {
		writeStoreError(w, r, "Get bucket location", err, "bucket", bucket)
		return
	}
	if !exists {
		writeNoSuchBucketError(w, r)
		return
	}

	resp := LocationConstraint{
		XMLNS:  S3XMLNamespace,
		Region: s.Config.Region,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "bucket", bucket, "err", err)
	}
}

// handleListObjects implements S3 ListObjects (v1):
// GET /bucket[?prefix=&delimiter=&marker=&max-keys=].
func (s *Server) handleListObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	marker := q.Get("marker")
	maxKeys := parseMaxKeys(q)

	page, err := s.listPage(ctx, bucket, prefix, delimiter, marker, maxKeys)
	if err != nil {
		writeStoreError(w, r, "List objects", err, "bucket", bucket)
		return
	}

	resp := ListBucketResult{
		XMLNS:          S3XMLNamespace,
		Name:           bucket,
		Prefix:         prefix,
		Marker:         marker,
		Delimiter:      delimiter,
		MaxKeys:        maxKeys,
		IsTruncated:    page.isTruncated,
		Contents:       page.contents,
		CommonPrefixes: page.prefixes,
	}
	if delimiter != "" {
		resp.NextMarker = page.next
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

// handleListObjectsV2 implements S3 ListObjectsV2:
// GET /bucket?list-type=2[&prefix=&delimiter=&max-keys=&continuation-token=&start-after=].
func (s *Server) handleListObjectsV2(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuationToken := q.Get("continuation-token")
	startAfter := q.Get("start-after")
	maxKeys := parseMaxKeys(q)

	// The continuation token is the last entry of the previous page.
	after := startAfter
	if continuationToken != "" {
		after = continuationToken
	}

	page, err := s.listPage(ctx, bucket, prefix, delimiter, after, maxKeys)
	if err != nil {
		writeStoreError(w, r, "List objects v2", err, "bucket", bucket)
		return
	}

	resp := ListBucketResultV2{
		XMLNS:                 S3XMLNamespace,
		Name:                  bucket,
		Prefix:                prefix,
		Delimiter:             delimiter,
		KeyCount:              len(page.contents) + len(page.prefixes),
		MaxKeys:               maxKeys,
		IsTruncated:           page.isTruncated,
		ContinuationToken:     continuationToken,
		NextContinuationToken: page.next,
		StartAfter:            startAfter,
		Contents:              page.contents,
		CommonPrefixes:        page.prefixes,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects v2 XML", "bucket", bucket, "err", err)
	}
}

// ------ Object-level HTTP handlers ------

// handleObjectPut implements PUT /bucket/key to store an object.
func (s *Server) handleObjectPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	if op, ok := unsupportedSubresource(r.URL.Query(), objectPutSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}
	if r.Header.Get("x-amz-copy-source") != "" {
		s.writeNotImplemented(w, r, "CopyObject")
		return
	}

	defer r.Body.Close()

	data, ok := s.readObjectBody(w, r)
	if !ok {
		return
	}

	if contentMD5 := r.Header.Get("Content-MD5"); contentMD5 != "" {
		want, err := base64.StdEncoding.DecodeString(contentMD5)
		if err != nil || len(want) != md5.Size {
			writeS3Error(w, r, "InvalidDigest", "The Content-MD5 you specified was invalid.", http.StatusBadRequest)
			return
		}
		if got := md5.Sum(data); !bytes.Equal(got[:], want) {
			writeS3Error(w, r, "BadDigest", "The Content-MD5 you specified did not match what we received.", http.StatusBadRequest)
			return
		}
	}

	obj, err := s.Store.PutObject(ctx, bucket, key, data, store.PutOptions{
		ContentType: r.Header.Get("Content-Type"),
		Metadata:    userMetadata(r.Header),
	})
	if err != nil {
		writeStoreError(w, r, "Put object", err, "bucket", bucket, "key", key)
		return
	}

	w.Header().Set("ETag", createETag(obj.Hash))
	w.WriteHeader(http.StatusOK)
}

// readObjectBody reads a PUT body, decoding aws-chunked uploads, and
// enforces the configured size limit. On failure it writes the error
// response and returns false.
func (s *Server) readObjectBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := s.Config.MaxObjectSize

	declared := r.ContentLength
	streaming := isStreamingPayload(r.Header.Get("X-Amz-Content-Sha256"))
	if streaming {
		declared = -1
		if raw := r.Header.Get("X-Amz-Decoded-Content-Length"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				writeS3Error(w, r, "InvalidRequest", "Invalid X-Amz-Decoded-Content-Length", http.StatusBadRequest)
				return nil, false
			}
			declared = v
		}
	}

	if declared > limit {
		writeS3Error(w, r, "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusBadRequest)
		return nil, false
	}

	var buf bytes.Buffer
	if declared > 0 {
		buf.Grow(int(declared))
	}

	if streaming {
		if _, err := decodeStreamingPayload(&buf, r.Body, limit); err != nil {
			if errors.Is(err, errPayloadTooLarge) {
				writeS3Error(w, r, "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusBadRequest)
				return nil, false
			}
			slog.Error("Decode streaming payload", "err", err)
			writeS3Error(w, r, "InvalidRequest", "Failed to decode streaming payload", http.StatusBadRequest)
			return nil, false
		}
		return buf.Bytes(), true
	}

	if _, err := io.Copy(&buf, http.MaxBytesReader(w, r.Body, limit)); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeS3Error(w, r, "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusBadRequest)
			return nil, false
		}
		slog.Error("Read request body", "err", err)
		writeS3Error(w, r, "InvalidRequest", "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	return buf.Bytes(), true
}

// handleObjectGet implements GET /bucket/key to retrieve an object. The
// payload is verified before any of it is sent.
func (s *Server) handleObjectGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	if op, ok := unsupportedSubresource(r.URL.Query(), objectGetSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}

	obj, err := s.Store.GetObject(ctx, bucket, key)
	if err != nil {
		writeStoreError(w, r, "Get object", err, "bucket", bucket, "key", key)
		return
	}

	setObjectHeaders(w, obj.ObjectInfo)
	http.ServeContent(w, r, key, obj.LastModified, bytes.NewReader(obj.Data))
}

// handleObjectHead implements HEAD /bucket/key, returning metadata headers
// compatible with S3 but without a response body.
func (s *Server) handleObjectHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	info, err := s.Store.StatObject(ctx, bucket, key)
	if err != nil {
		writeStoreError(w, r, "Head object", err, "bucket", bucket, "key", key)
		return
	}

	setObjectHeaders(w, *info)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// handleObjectDelete implements DELETE /bucket/key to delete an object.
func (s *Server) handleObjectDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	if op, ok := unsupportedSubresource(r.URL.Query(), objectDeleteSubresources); ok {
		s.writeNotImplemented(w, r, op)
		return
	}

	removed, err := s.Store.DeleteObject(ctx, bucket, key)
	if err != nil && !removed {
		writeStoreError(w, r, "Delete object", err, "bucket", bucket, "key", key)
		return
	}
	if err != nil {
		// The object is gone; only its payload file was left behind.
		slog.Warn("Delete object", "bucket", bucket, "key", key, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleObjectPost implements POST /bucket/key. Multipart uploads and the
// other POST operations are not served.
func (s *Server) handleObjectPost(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("uploads"):
		s.writeNotImplemented(w, r, "CreateMultipartUpload")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "CompleteMultipartUpload")
	case q.Has("restore"):
		s.writeNotImplemented(w, r, "RestoreObject")
	case q.Has("select"):
		s.writeNotImplemented(w, r, "SelectObjectContent")
	default:
		s.writeNotImplemented(w, r, "ObjectPost")
	}
}

// ------ Consistency endpoint ------

func (s *Server) consistencyStatus() ConsistencyStatus {
	status := ConsistencyStatus{
		State:    s.Checker.State().String(),
		Interval: s.Checker.Interval().String(),
	}

	report, ok := s.Checker.LastReport()
	if !ok {
		return status
	}

	status.Checked = true
	status.Consistent = report.Err == nil
	status.Started = report.Started.UTC().Format(time.RFC3339)
	status.Finished = report.Finished.UTC().Format(time.RFC3339)
	if report.Err != nil {
		status.Error = report.Err.Error()
	}
	return status
}

// handleConsistencyGet implements GET /-/consistency, reporting the last
// scan without starting one.
func (s *Server) handleConsistencyGet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := writeXMLResponse(w, s.consistencyStatus()); err != nil {
		slog.Error("Encode consistency status XML", "err", err)
	}
}

// handleConsistencyPost implements POST /-/consistency, running a scan now
// and reporting its result.
func (s *Server) handleConsistencyPost(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := s.Checker.Check(ctx); err != nil && ctx.Err() != nil {
		writeInternalError(w, r)
		return
	}

	if err := writeXMLResponse(w, s.consistencyStatus()); err != nil {
		slog.Error("Encode consistency status XML", "err", err)
	}
}
