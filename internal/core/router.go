package core

import (
	"net/http"
	"strings"

	"coffer/internal/blob"
)

// AdminPrefix is the path prefix of the server's own endpoints. "-" is not
// a valid bucket name, so it never shadows a bucket.
const AdminPrefix = "/-/"

// Handler returns an http.Handler implementing the S3 API and the admin
// endpoints.
func (s *Server) Handler() http.Handler {
	api := s.apiMux()
	admin := s.adminMux()

	// Admin paths live in their own mux: "GET /-/consistency" and
	// "HEAD /{bucket}/{key...}" overlap without either being more specific,
	// which ServeMux refuses to register.
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, AdminPrefix) {
			admin.ServeHTTP(w, r)
			return
		}

		// Reject malformed keys before the mux sees them; it would otherwise
		// redirect "a//b" to "a/b" and serve a different object.
		if _, key := splitPath(r.URL.Path); key != "" {
			if err := blob.ValidateKey(key); err != nil {
				writeS3Error(w, r, "InvalidObjectName", "The specified key is not valid.", http.StatusBadRequest)
				return
			}
		}
		api.ServeHTTP(w, r)
	})

	// Add middleware
	handler = SlashFix(handler)
	handler = LogRequest(handler)
	handler = RequestID(handler)
	handler = Recoverer(handler)
	return handler
}

// splitPath splits a request path into its bucket and key. key is empty
// for the root and for bucket-level paths.
func splitPath(p string) (bucket string, key string) {
	bucket, key, _ = strings.Cut(strings.TrimPrefix(p, "/"), "/")
	return bucket, key
}

func (s *Server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /-/consistency", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleConsistencyGet(ctx, w, r)
	})
	mux.HandleFunc("POST /-/consistency", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleConsistencyPost(ctx, w, r)
	})

	return mux
}

func (s *Server) apiMux() *http.ServeMux {
	mux := http.NewServeMux()

	// List all buckets
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleListBuckets(ctx, w, r)
	})

	// Bucket-level operations
	mux.HandleFunc("PUT /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketPut(ctx, w, r, bucket)
	})
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketGet(ctx, w, r, bucket)
	})
	mux.HandleFunc("HEAD /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketHead(ctx, w, r, bucket)
	})
	mux.HandleFunc("DELETE /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketDelete(ctx, w, r, bucket)
	})
	mux.HandleFunc("POST /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketPost(ctx, w, r, bucket)
	})

	// Object-level operations
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectPut(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectGet(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectHead(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectDelete(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectPost(ctx, w, r, bucket, key)
	})

	return mux
}
