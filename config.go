package main

import (
	"cardscan/pkg/cliargs"
	"cardscan/pkg/ocr"
)

// MigrateCmd runs migrations and seeding, then exits.
type MigrateCmd struct{}

// Config is read from flags and the environment; .env is loaded first.
type Config struct {
	Listen        string `arg:"--listen,env:LISTEN_ADDR" default:":8081" help:"HTTP listen address"`
	JWTSecret     string `arg:"--jwt-secret,env:JWT_SECRET" help:"HMAC key for access tokens"`
	AdminPassword string `arg:"--admin-password,env:ADMIN_PASSWORD" default:"admin123" help:"password of the seeded admin operator"`

	cliargs.DB
	cliargs.OCR

	MaxUploadMB int64  `arg:"--max-upload-mb,env:MAX_UPLOAD_MB" default:"5" help:"largest accepted card image"`
	LogLevel    string `arg:"--log-level,env:LOG_LEVEL" default:"info"`
	LogFormat   string `arg:"--log-format,env:LOG_FORMAT" default:"json" help:"json or console"`

	Migrate *MigrateCmd `arg:"subcommand:migrate" help:"run migrations and seeding, then exit"`
}

func (Config) Description() string {
	return "cardscan reads first and last names from company ID cards and exports them to Excel"
}

func (Config) Version() string {
	return "cardscan (tesseract " + ocr.Version() + ")"
}
