// Package cliargs holds the go-arg argument groups shared by the batch tools.
// Embed them in a command's argument struct.
package cliargs

import (
	"time"

	"cardscan/pkg/logging"
	"cardscan/pkg/ocr"
	"cardscan/pkg/store"
)

// Log configures zerolog.
type Log struct {
	LogLevel  string `arg:"--log-level,env:LOG_LEVEL" default:"info"`
	LogFormat string `arg:"--log-format,env:LOG_FORMAT" default:"console" help:"json or console"`
}

// Setup applies the logging flags.
func (l Log) Setup() {
	logging.Setup(l.LogLevel, l.LogFormat)
}

// DB selects the store.
type DB struct {
	DSN         string `arg:"--db-dsn,env:DB_DSN" help:"Postgres DSN"`
	AutoMigrate bool   `arg:"--db-auto-migrate,env:DB_AUTO_MIGRATE" default:"true"`
	LogSQL      bool   `arg:"--log-sql,env:DB_LOG_SQL"`
}

// Open connects to Postgres, or returns a MemoryStore when no DSN is set and
// allowMemory is true.
func (d DB) Open(allowMemory bool) (store.Store, error) {
	if d.DSN == "" {
		if allowMemory {
			return store.NewMemoryStore(), nil
		}
		return nil, errNoDSN
	}
	return store.OpenGorm(store.GormConfig{DSN: d.DSN, AutoMigrate: d.AutoMigrate, LogSQL: d.LogSQL})
}

// OCR configures the recognition pipeline.
type OCR struct {
	Profile        string        `arg:"--ocr-profile,env:OCR_PROFILE" default:"otsu" help:"otsu or adaptive"`
	Languages      string        `arg:"--ocr-langs,env:OCR_LANGS" default:"tur+eng"`
	PSM            int           `arg:"--ocr-psm,env:OCR_PSM" default:"6"`
	FallbackPSM    int           `arg:"--ocr-fallback-psm,env:OCR_FALLBACK_PSM" default:"11"`
	Concurrency    int64         `arg:"--ocr-concurrency,env:OCR_CONCURRENCY"`
	Timeout        time.Duration `arg:"--ocr-timeout,env:OCR_TIMEOUT" default:"60s"`
	TessdataPrefix string        `arg:"--tessdata-prefix,env:TESSDATA_PREFIX"`
}

// Config turns the flags into a scanner configuration.
func (o OCR) Config() (ocr.ScannerConfig, error) {
	p, err := ocr.ProfileByName(o.Profile)
	if err != nil {
		return ocr.ScannerConfig{}, err
	}
	return ocr.ScannerConfig{
		Profile: p,
		Options: ocr.Options{
			Languages:      ocr.ParseLanguages(o.Languages),
			PageSegMode:    o.PSM,
			TessdataPrefix: o.TessdataPrefix,
		},
		FallbackPSM: o.FallbackPSM,
		Concurrency: o.Concurrency,
		Timeout:     o.Timeout,
	}, nil
}

// Scanner builds a Tesseract-backed scanner.
func (o OCR) Scanner() (*ocr.Scanner, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	return ocr.NewScanner(ocr.NewTesseract(), cfg), nil
}
