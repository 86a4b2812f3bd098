// Command cmd_report prints the scan sessions of an operator with their
// record and failure counts.
package main

import (
	"context"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
	"cardscan/process/report"
)

type args struct {
	Username string `arg:"--username" default:"admin" help:"operator to report for"`
	List     bool   `arg:"--list" help:"list the rows of every session"`

	cliargs.Log
	cliargs.DB
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	st, err := a.DB.Open(false)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	if err := report.PrintSummary(context.Background(), os.Stdout, st, a.Username, a.List); err != nil {
		log.Fatal().Err(err).Msg("report")
	}
}
