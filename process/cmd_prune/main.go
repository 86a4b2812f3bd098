// Command cmd_prune deletes spent refresh tokens and old sessions that never
// got a record.
package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
)

type args struct {
	OlderThan time.Duration `arg:"--older-than" default:"720h" help:"only prune sessions created before now minus this"`
	DryRun    bool          `arg:"--dry-run" help:"count without deleting"`

	cliargs.Log
	DSN string `arg:"--db-dsn,env:DB_DSN,required"`
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	db, err := sql.Open("postgres", a.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	cutoff := time.Now().Add(-a.OlderThan)

	if a.DryRun {
		var tokens, sessions int64
		if err := db.QueryRow(`SELECT count(*) FROM refresh_tokens WHERE revoked OR expires_at < now()`).Scan(&tokens); err != nil {
			log.Fatal().Err(err).Msg("count tokens")
		}
		if err := db.QueryRow(`SELECT count(*) FROM sessions s WHERE s.created_at < $1 AND NOT EXISTS (SELECT 1 FROM records r WHERE r.session_id = s.id)`, cutoff).Scan(&sessions); err != nil {
			log.Fatal().Err(err).Msg("count sessions")
		}
		fmt.Printf("dry-run: refresh tokens=%d empty sessions=%d\n", tokens, sessions)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatal().Err(err).Msg("begin")
	}
	res1, err := tx.Exec(`DELETE FROM refresh_tokens WHERE revoked OR expires_at < now()`)
	if err != nil {
		tx.Rollback()
		log.Fatal().Err(err).Msg("delete refresh tokens")
	}
	n1, _ := res1.RowsAffected()
	// scans of an empty session only hold failures; they go with it
	res2, err := tx.Exec(`DELETE FROM sessions s WHERE s.created_at < $1 AND NOT EXISTS (SELECT 1 FROM records r WHERE r.session_id = s.id)`, cutoff)
	if err != nil {
		tx.Rollback()
		log.Fatal().Err(err).Msg("delete sessions")
	}
	n2, _ := res2.RowsAffected()
	if err := tx.Commit(); err != nil {
		log.Fatal().Err(err).Msg("commit")
	}
	fmt.Printf("prune done: refresh tokens deleted=%d, empty sessions deleted=%d\n", n1, n2)
}
