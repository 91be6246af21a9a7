// Command admin uploads site media through the admin API: it signs in,
// pushes images through the transcode/upload pipeline, and keeps the local
// session state other admin tabs watch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/northpine/sitemedia/internal/broadcast"
	"github.com/northpine/sitemedia/internal/client"
	"github.com/northpine/sitemedia/internal/config"
	"github.com/northpine/sitemedia/internal/observability"
	"github.com/northpine/sitemedia/internal/session"
	"github.com/northpine/sitemedia/internal/uploader"
)

type consoleNotifier struct{}

func (consoleNotifier) Notify(kind, title, detail string) {
	fmt.Printf("[%s] %s: %s\n", kind, title, detail)
}

func main() {
	var (
		configPath = flag.String("config", "", "path to the yaml config file")
		apiURL     = flag.String("api", "http://localhost:8080", "admin API base URL")
		email      = flag.String("email", "", "admin email")
		password   = flag.String("password", "", "admin password (falls back to SITEMEDIA_ADMIN_PASSWORD)")
		category   = flag.String("category", "hero", "upload category: hero or product")
		subject    = flag.String("subject", "", "page name for hero uploads, product id for product uploads")
	)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 || *email == "" || *subject == "" {
		log.Fatal("usage: admin -email ... -subject ... [-category hero|product] file [file...]")
	}

	pass := *password
	if pass == "" {
		pass = os.Getenv("SITEMEDIA_ADMIN_PASSWORD")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observability.InitLogger(true)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	// Short-lived process: counters are gathered and logged on exit rather
	// than scraped.
	registry := prometheus.NewRegistry()
	metrics, err := observability.InitMetrics(registry)
	if err != nil {
		logger.Fatal("init metrics", zap.Error(err))
	}

	ctx := context.Background()

	api, err := client.Login(ctx, *apiURL, *email, pass)
	if err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	tracker, err := startTracker(cfg, api, metrics, logger)
	if err != nil {
		logger.Fatal("start session tracker", zap.Error(err))
	}
	defer tracker.Close()
	if !tracker.Authenticated() {
		logger.Fatal("session is stale; sign in again")
	}

	cat := uploader.Category(*category)
	if err := runUploads(ctx, api, cat, *subject, files, metrics, logger); err != nil {
		logger.Fatal("upload failed", zap.Error(err))
	}
	tracker.RecordActivity()
	tracker.Logout(session.ReasonManual)
	logCounters(registry, logger)
}

// logCounters reports every non-zero counter the run produced.
func logCounters(g prometheus.Gatherer, logger *zap.Logger) {
	families, err := g.Gather()
	if err != nil {
		logger.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil || c.GetValue() == 0 {
				continue
			}
			fields := []zap.Field{zap.Float64("value", c.GetValue())}
			for _, l := range m.GetLabel() {
				fields = append(fields, zap.String(l.GetName(), l.GetValue()))
			}
			logger.Info(mf.GetName(), fields...)
		}
	}
}

func startTracker(cfg *config.AppConfig, api *client.Client, metrics *observability.Metrics, logger *zap.Logger) (*session.Tracker, error) {
	stateDir := cfg.Session.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "sitemedia")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	bus, err := broadcast.NewFileBus(filepath.Join(stateDir, "logout.json"), 0)
	if err != nil {
		return nil, fmt.Errorf("open logout bus: %w", err)
	}
	store, err := session.NewFileActivityStore(filepath.Join(stateDir, "activity.json"))
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}

	return session.New(session.Config{
		Timeout:       cfg.Session.Timeout,
		HiddenTimeout: cfg.Session.HiddenTimeout,
		Auth:          api,
		Bus:           bus,
		Store:         store,
		Logger:        logger,
		Logouts:       metrics.LogoutsTotal,
	}), nil
}

func runUploads(ctx context.Context, api *client.Client, cat uploader.Category, subject string, files []string, metrics *observability.Metrics, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, path := range files {
		path := path
		g.Go(func() error {
			result, err := uploadOne(ctx, api, cat, subject, path, metrics, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			logger.Info("uploaded",
				zap.String("file", path),
				zap.String("url", result.PublicURL),
				zap.Int("width", result.Width),
				zap.Int("height", result.Height),
				zap.Int64("bytes", result.Size),
			)
			for _, warning := range result.Warnings {
				logger.Warn(warning, zap.String("file", path))
			}

			if cat == uploader.CategoryProduct {
				return api.SetProductImage(ctx, subject, result.PublicURL)
			}
			return nil
		})
	}
	return g.Wait()
}

func uploadOne(ctx context.Context, api *client.Client, cat uploader.Category, subject, path string, metrics *observability.Metrics, logger *zap.Logger) (*uploader.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// One orchestrator per upload; instances are single-flight.
	orch := uploader.New(uploader.Config{
		Issuer:      api,
		Metadata:    api,
		Logger:      logger,
		Notifier:    consoleNotifier{},
		Uploads:     metrics.UploadsTotal,
		UploadBytes: metrics.UploadBytes,
	})

	done := make(chan struct{})
	go reportProgress(orch, path, done)
	defer close(done)

	return orch.Upload(ctx, &uploader.Request{
		FileName:    filepath.Base(path),
		ContentType: contentType,
		Data:        data,
		Category:    cat,
		Subject:     subject,
	})
}

func reportProgress(orch *uploader.Orchestrator, path string, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			state, progress, _ := orch.Snapshot()
			if progress != last {
				fmt.Printf("%s: %s %d%%\n", filepath.Base(path), state, progress)
				last = progress
			}
		}
	}
}
