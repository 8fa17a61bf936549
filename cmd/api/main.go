package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	migrationfiles "attackflow/api/db"
	"attackflow/api/internal/app"
	"attackflow/api/internal/attackflow"
	"attackflow/api/internal/blob"
	"attackflow/api/internal/config"
	"attackflow/api/internal/convert"
	"attackflow/api/internal/export"
	"attackflow/api/internal/gitrepo"
	"attackflow/api/internal/search"
	"attackflow/api/internal/session"
	"attackflow/api/internal/store"
	"attackflow/api/internal/taxonomy"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	migrations, err := migrationSource(cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations unavailable: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		log.Fatalf("object storage init failed: %v", err)
	}
	log.Printf("Using %s driver for uploaded files", blobs.Driver())

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var sessions interface {
		Save(context.Context, string, session.Info) error
		Lookup(context.Context, string) (session.Info, error)
		Delete(context.Context, string) error
		Ping(context.Context) error
		Close() error
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, keeping sessions in memory: %v", err)
			sessions = session.NewMemoryStore(cfg.SessionTTL)
		} else {
			log.Printf("Using Redis for session storage")
			sessions = redisStore
		}
	} else {
		log.Printf("Using process memory for session storage")
		sessions = session.NewMemoryStore(cfg.SessionTTL)
	}
	defer sessions.Close()

	service := app.New(cfg, app.Dependencies{
		Store:     dataStore,
		Git:       gitService,
		Blobs:     blobs,
		Sessions:  sessions,
		Search:    searchService,
		Exporter:  export.NewService(),
		Converter: convert.New(),
		Flows:     attackflow.NewBuilder(),
		Tags:      taxonomy.Default(),
	})

	go searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Attack Flow annotator API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// migrationSource prefers migrations on disk and falls back to the copy
// compiled into the binary.
func migrationSource(dir string) (fs.FS, error) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir), nil
	}
	log.Printf("migrations dir %s not found, using embedded migrations", dir)
	return fs.Sub(migrationfiles.Migrations, "migrations")
}
