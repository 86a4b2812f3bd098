// Command cmd_watch reads every card image in a directory into one session
// and, with --watch, keeps adding new files until interrupted.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/models"
	"cardscan/pkg/cliargs"
	"cardscan/pkg/store"
	"cardscan/process/report"
	"cardscan/process/watch"
)

type args struct {
	Dir       string `arg:"--dir" default:"public/cards" help:"directory to scan for card images"`
	Processed string `arg:"--processed" default:"public/processed" help:"where scanned files are moved; empty keeps them in place"`
	Workers   int    `arg:"--workers" help:"worker pool size (default NumCPU)"`
	Watch     bool   `arg:"--watch" help:"keep watching the directory for new files"`
	DryRun    bool   `arg:"--dry-run" help:"run OCR and log names without storing or moving anything"`
	Out       string `arg:"--out" help:"xlsx file written when the run ends"`
	Username  string `arg:"--username" default:"admin" help:"operator owning the session"`
	Session   string `arg:"--session" help:"append to this session instead of opening a new one"`

	AdminPassword string `arg:"--admin-password,env:ADMIN_PASSWORD" default:"admin123"`

	cliargs.Log
	cliargs.DB
	cliargs.OCR
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.DB.Open(true)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	if a.DSN == "" && a.Out == "" && !a.DryRun {
		log.Warn().Msg("no DB_DSN and no --out: results are lost when the run ends")
	}
	if err := store.Seed(ctx, st, a.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("seed")
	}

	sess, err := resolveSession(ctx, st, a.Username, a.Session)
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	scanner, err := a.OCR.Scanner()
	if err != nil {
		log.Fatal().Err(err).Msg("ocr config")
	}
	processed := a.Processed
	if a.DryRun {
		processed = ""
	}
	p := watch.New(watch.Config{
		Dir:          a.Dir,
		ProcessedDir: processed,
		Workers:      a.Workers,
		DryRun:       a.DryRun,
	}, scanner, st, sess.ID)
	if err := p.Preload(ctx); err != nil {
		log.Fatal().Err(err).Msg("preload")
	}

	files, err := watch.ListImageFiles(a.Dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", a.Dir).Msg("list files")
	}
	log.Info().Str("session", sess.ID).Int("files", len(files)).Msg("scanning")
	added, failed, err := p.Run(ctx, files)
	if err != nil {
		log.Error().Err(err).Msg("run")
	}
	log.Info().Int("added", added).Int("failed", failed).Msg("initial scan done")

	if a.Watch && ctx.Err() == nil {
		if err := p.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("watch failed")
		}
	}

	if a.Out != "" && !a.DryRun {
		// the signal context is already done here
		n, err := report.ExportSession(context.Background(), st, sess.ID, a.Out)
		if err != nil {
			log.Error().Err(err).Str("out", a.Out).Msg("export failed")
			return
		}
		log.Info().Int("records", n).Str("out", a.Out).Msg("exported")
	}
}

func resolveSession(ctx context.Context, st store.Store, username, id string) (*models.Session, error) {
	if id != "" {
		return st.SessionByID(ctx, id)
	}
	user, err := st.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New("unknown operator " + username)
	}
	if err != nil {
		return nil, err
	}
	return store.OpenSession(ctx, st, user.ID)
}
