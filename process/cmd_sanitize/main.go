// Command cmd_sanitize empties the service tables of a Postgres database.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
	"cardscan/pkg/store"
	"cardscan/process/sanitize"
)

type args struct {
	DryRun bool   `arg:"--dry-run" default:"true" help:"show what would be done"`
	Yes    bool   `arg:"--yes" help:"confirm the destructive action"`
	Reseed bool   `arg:"--reseed" help:"recreate roles and the admin operator afterwards"`
	Tables string `arg:"--tables" help:"comma-separated tables (default: all service tables)"`

	AdminPassword string `arg:"--admin-password,env:ADMIN_PASSWORD" default:"admin123"`

	cliargs.Log
	cliargs.DB
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	a.DB.AutoMigrate = false
	st, err := a.DB.Open(false)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	gs, ok := st.(*store.GormStore)
	if !ok {
		log.Fatal().Msg("sanitize needs a Postgres store")
	}

	opts := sanitize.Options{DryRun: a.DryRun, Yes: a.Yes}
	if a.Tables != "" {
		opts.Tables = strings.Split(a.Tables, ",")
	}
	if a.Reseed {
		opts.ReseedPassword = a.AdminPassword
	}
	if err := sanitize.Run(context.Background(), os.Stdout, gs.DB(), opts); err != nil {
		log.Fatal().Err(err).Msg("sanitize")
	}
}
