// Command photopathd serves the photo critique flow over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"

	"github.com/anatolykoptev/go-photopath"
	"github.com/anatolykoptev/go-photopath/redisstore"
	"github.com/anatolykoptev/go-photopath/s3"
	"github.com/anatolykoptev/go-photopath/server"
	"github.com/anatolykoptev/go-photopath/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("photopathd: exit", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	props, err := server.ReadProperties()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: props.SlogLevel()})))
	gin.SetMode(gin.ReleaseMode)

	cfg := &photopath.Config{
		Location:                props.Location(),
		AnonymousDailyLimit:     props.AnonymousLimit,
		AuthenticatedDailyLimit: props.AuthenticatedLimit,
		NearDuplicateDistance:   props.NearDuplicateDistance,
	}

	closeStore, err := wireStore(cfg, props.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg.Analyzer = photopath.NewOllamaAnalyzer(photopath.OllamaConfig{
		BaseURL: props.Ollama.BaseURL,
		Model:   props.Ollama.Model,
		Timeout: props.Ollama.Timeout,
		Loader:  cfg,
	})
	cfg.AnalyzeTimeout = props.Ollama.Timeout

	if cfg.Uploader, err = wireUploader(props); err != nil {
		return err
	}
	if cfg.ShareCard, err = cardOptions(props); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         props.HTTP.Addr,
		Handler:      server.New(cfg, props.CORSOrigins).Handler(),
		ReadTimeout:  props.HTTP.ReadTimeout,
		WriteTimeout: props.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("photopathd: listening", "addr", srv.Addr, "store", props.Store.Driver)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("photopathd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), props.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// wireStore selects the durable store and journal. Thumbnails always live
// in process memory: they are session-scoped.
func wireStore(cfg *photopath.Config, p server.StoreProperties) (func(), error) {
	switch p.Driver {
	case "memory":
		return func() {}, nil
	case "file":
		fs, err := photopath.NewFileStore(p.Dir)
		if err != nil {
			return nil, err
		}
		cfg.Store = fs
		return func() {}, nil
	case "redis":
		rs, err := redisstore.New(p.RedisURL, redisstore.WithPrefix(p.RedisPrefix), redisstore.WithTTL(p.RedisTTL))
		if err != nil {
			return nil, err
		}
		cfg.Store = rs
		return func() { _ = rs.Close() }, nil
	case "sqlite", "":
		db, err := sqlite.Open(p.Path)
		if err != nil {
			return nil, err
		}
		cfg.Store, cfg.Journal = db.Store(), db.Journal()
		return func() { _ = db.Close() }, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", p.Driver)
	}
}

// wireUploader prefers Cloudinary, then S3. With neither, uploads stay local.
func wireUploader(props *server.AppProperties) (photopath.Uploader, error) {
	switch {
	case props.Cloudinary.CloudName != "":
		return &photopath.CloudinaryUploader{
			CloudName:    props.Cloudinary.CloudName,
			UploadPreset: props.Cloudinary.UploadPreset,
			Folder:       props.Cloudinary.Folder,
		}, nil
	case props.S3.Endpoint != "":
		return s3.New(s3.Config{
			Endpoint:  props.S3.Endpoint,
			AccessKey: props.S3.AccessKey,
			SecretKey: props.S3.SecretKey,
			Bucket:    props.S3.Bucket,
			UseSSL:    props.S3.UseSSL,
			PublicURL: props.S3.PublicURL,
		})
	default:
		slog.Info("photopathd: no uploader configured, images stay local")
		return nil, nil
	}
}

func cardOptions(props *server.AppProperties) (photopath.ShareCardOptions, error) {
	var opts photopath.ShareCardOptions
	var err error
	if props.FontRegular != "" {
		if opts.RegularFont, err = os.ReadFile(props.FontRegular); err != nil {
			return opts, fmt.Errorf("read regular font: %w", err)
		}
	}
	if props.FontBold != "" {
		if opts.BoldFont, err = os.ReadFile(props.FontBold); err != nil {
			return opts, fmt.Errorf("read bold font: %w", err)
		}
	}
	return opts, nil
}
