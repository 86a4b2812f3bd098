package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/logging"
	"cardscan/pkg/ocr"
)

func main() {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	var cfg Config
	arg.MustParse(&cfg)
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = "dev-insecure-secret-change"
		log.Warn().Msg("JWT_SECRET not set, using development secret")
	}
	jwtSecret = []byte(secret)
	if cfg.MaxUploadMB > 0 {
		maxUploadBytes = cfg.MaxUploadMB << 20
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initStore(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer appStore.Close()

	if cfg.Migrate != nil {
		log.Info().Msg("migration and seeding completed")
		return
	}

	scfg, err := cfg.OCR.Config()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid OCR configuration")
	}
	cardScanner = ocr.NewScanner(ocr.NewTesseract(), scfg)
	engineVersion = ocr.Version()
	log.Info().
		Str("tesseract", engineVersion).
		Str("profile", scfg.Profile.Name).
		Strs("languages", scfg.Options.Languages).
		Msg("ocr ready")

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Gin())
	r.MaxMultipartMemory = maxUploadBytes + 1<<20
	setupRoutes(r)

	srv := &http.Server{Addr: cfg.Listen, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
