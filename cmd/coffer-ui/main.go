package main

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"coffer/internal/core"
	"coffer/internal/ui"
)

type Server struct {
	client   *minio.Client
	endpoint *url.URL
	http     *http.Client
}

func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list buckets: %v", err), http.StatusInternalServerError)
		return
	}

	uiBuckets := make([]ui.Bucket, 0, len(buckets))
	for _, b := range buckets {
		uiBuckets = append(uiBuckets, ui.Bucket{
			Name:         b.Name,
			CreationDate: b.CreationDate.UTC().Format(time.RFC3339),
		})
	}

	if err := ui.BucketsPage(uiBuckets).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render buckets page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) BucketContents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := r.PathValue("bucket")
	if bucket == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	prefix := r.PathValue("key")

	opts := minio.ListObjectsOptions{
		Recursive: false,
		Prefix:    prefix,
	}

	var prefixes []string
	objects := make([]ui.Object, 0, 64)
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			slog.Error("ListObjects error", "bucket", bucket, "err", obj.Err)
			http.Error(w, fmt.Sprintf("failed to list objects: %v", obj.Err), http.StatusBadGateway)
			return
		}

		// Common prefixes come back as keys ending in the delimiter.
		if strings.HasSuffix(obj.Key, "/") {
			prefixes = append(prefixes, obj.Key)
			continue
		}

		objects = append(objects, ui.Object{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC().Format(time.RFC3339),
			ETag:         obj.ETag,
		})
	}

	if err := ui.ObjectsPage(bucket, prefix, prefixes, objects).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render objects page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) CreateBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		s.formError(w, r, "bucket name is required", http.StatusBadRequest)
		return
	}

	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		slog.Error("failed to create bucket", "bucket", name, "err", err)
		s.formError(w, r, fmt.Sprintf("failed to create bucket: %v", err), http.StatusBadRequest)
		return
	}

	redirectURL := fmt.Sprintf("/bucket/%s/", url.PathEscape(name))
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", redirectURL)
		w.WriteHeader(http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

func (s *Server) formError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "<p class=\"error-message\">%s</p>", html.EscapeString(msg))
		return
	}
	http.Error(w, msg, status)
}

// Health shows the server's consistency report. POST asks the server to
// scan now first.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := s.fetchConsistency(ctx, r.Method)
	if err != nil {
		slog.Error("failed to fetch consistency status", "err", err)
		http.Error(w, fmt.Sprintf("failed to fetch consistency status: %v", err), http.StatusBadGateway)
		return
	}

	health := ui.Health{
		State:      status.State,
		Interval:   status.Interval,
		Checked:    status.Checked,
		Consistent: status.Consistent,
		Finished:   status.Finished,
		Error:      status.Error,
	}

	if err := ui.HealthPage(health).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render health page: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *Server) fetchConsistency(ctx context.Context, method string) (core.ConsistencyStatus, error) {
	var status core.ConsistencyStatus

	target := s.endpoint.JoinPath(core.AdminPrefix, "consistency")
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return status, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode consistency status: %w", err)
	}
	return status, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func Run(ctx context.Context) error {

	var (
		HttpPort    = getEnv("COFFER_UI_PORT", "9100")
		S3Endpoint  = getEnv("COFFER_UI_S3_ENDPOINT", "localhost:9000")
		S3AccessKey = getEnv("COFFER_UI_S3_ACCESS_KEY", "coffer")
		S3SecretKey = getEnv("COFFER_UI_S3_SECRET_KEY", "coffer")
		S3Region    = getEnv("COFFER_UI_S3_REGION", core.DefaultRegion)
		S3UseSSL    = getEnv("COFFER_UI_S3_SSL", "false") == "true"
	)

	// Logging setup consistent with the main server.
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	client, err := minio.New(S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(S3AccessKey, S3SecretKey, ""),
		Secure:       S3UseSSL,
		Region:       S3Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	scheme := "http"
	if S3UseSSL {
		scheme = "https"
	}

	server := &Server{
		client:   client,
		endpoint: &url.URL{Scheme: scheme, Host: S3Endpoint},
		http:     &http.Client{Timeout: 5 * time.Minute},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.Home)
	mux.HandleFunc("GET /bucket/{bucket}/{key...}", server.BucketContents)
	mux.HandleFunc("POST /buckets", server.CreateBucket)
	mux.HandleFunc("GET /health", server.Health)
	mux.HandleFunc("POST /health", server.Health)

	srv := &http.Server{
		Addr:              ":" + HttpPort,
		Handler:           core.LogRequest(mux),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Coffer UI server", "port", HttpPort, "s3_endpoint", S3Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("coffer UI server failed: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
