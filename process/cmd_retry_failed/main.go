// Command cmd_retry_failed re-reads the failed scans of a session with a
// different preprocessing profile, adaptive by default.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
	"cardscan/pkg/ocr"
	"cardscan/process/report"
	"cardscan/process/watch"
)

type args struct {
	Session      string `arg:"--session" help:"session id (default: the operator's newest session)"`
	Username     string `arg:"--username" default:"admin"`
	Dir          string `arg:"--dir" default:"public/cards" help:"directory holding the failed files"`
	RetryProfile string `arg:"--retry-profile" default:"adaptive"`

	cliargs.Log
	cliargs.DB
	cliargs.OCR
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := a.DB.Open(false)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	profile, err := ocr.ProfileByName(a.RetryProfile)
	if err != nil {
		log.Fatal().Err(err).Msg("retry profile")
	}
	scanner, err := a.OCR.Scanner()
	if err != nil {
		log.Fatal().Err(err).Msg("ocr config")
	}

	sid := a.Session
	if sid == "" {
		sess, err := report.LatestSession(ctx, st, a.Username)
		if err != nil {
			log.Fatal().Err(err).Msg("session")
		}
		sid = sess.ID
	}
	p := watch.New(watch.Config{Dir: a.Dir}, scanner, st, sid)
	n, err := p.Retry(ctx, a.Dir, profile)
	if err != nil {
		log.Error().Err(err).Msg("retry stopped")
	}
	log.Info().Str("session", sid).Int("recovered", n).Msg("retry done")
}
