// Command cmd_export writes a stored session to an xlsx workbook, or loads a
// workbook back into a session.
package main

import (
	"context"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
	"cardscan/pkg/sheet"
	"cardscan/process/report"
)

type exportCmd struct {
	Out string `arg:"--out" help:"output file (default sirket_kimlik_listesi.xlsx)"`
}

type importCmd struct {
	In string `arg:"positional,required" help:"workbook with an Ad/Soyad header"`
}

type args struct {
	Session  string `arg:"--session" help:"session id (default: the operator's newest session)"`
	Username string `arg:"--username" default:"admin"`

	Export *exportCmd `arg:"subcommand:export" help:"write the session table to xlsx"`
	Import *importCmd `arg:"subcommand:import" help:"replace the session table with a workbook"`

	cliargs.Log
	cliargs.DB
}

func main() {
	_ = godotenv.Load()
	var a args
	p := arg.MustParse(&a)
	a.Log.Setup()
	if p.Subcommand() == nil {
		p.Fail("missing subcommand: export or import")
	}

	ctx := context.Background()
	st, err := a.DB.Open(false)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	sid := a.Session
	if sid == "" {
		sess, err := report.LatestSession(ctx, st, a.Username)
		if err != nil {
			log.Fatal().Err(err).Msg("session")
		}
		sid = sess.ID
	}

	switch {
	case a.Export != nil:
		out := a.Export.Out
		if out == "" {
			out = sheet.FileName
		}
		n, err := report.ExportSession(ctx, st, sid, out)
		if err != nil {
			log.Fatal().Err(err).Msg("export")
		}
		log.Info().Str("session", sid).Int("records", n).Str("out", out).Msg("exported")
	case a.Import != nil:
		n, err := report.ImportSheet(ctx, st, sid, a.Import.In)
		if err != nil {
			log.Fatal().Err(err).Msg("import")
		}
		log.Info().Str("session", sid).Int("records", n).Str("in", a.Import.In).Msg("imported")
	}
}
