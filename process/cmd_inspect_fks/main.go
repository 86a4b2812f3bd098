// Command cmd_inspect_fks prints the foreign keys of the service tables and
// checks that session children are removed with their session.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
)

type args struct {
	cliargs.Log
	DSN string `arg:"--db-dsn,env:DB_DSN,required"`
}

type foreignKey struct {
	Name, Table, RefTable, Def string
}

// tables whose rows must disappear with their session
var cascadeChildren = map[string]string{
	"records": "sessions",
	"scans":   "sessions",
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	fks, err := loadForeignKeys(a.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("inspect")
	}
	fmt.Println("Foreign keys:")
	for _, fk := range fks {
		fmt.Printf("- %s: %s -> %s\n    def: %s\n", fk.Name, fk.Table, fk.RefTable, fk.Def)
	}
	if missing := missingCascades(fks); len(missing) > 0 {
		fmt.Printf("missing ON DELETE CASCADE: %s\n", strings.Join(missing, ", "))
		os.Exit(1)
	}
}

func loadForeignKeys(dsn string) ([]foreignKey, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT con.conname, rel.relname, confrel.relname, pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_class confrel ON confrel.oid = con.confrelid
		WHERE con.contype = 'f'
		  AND rel.relname IN ('users', 'sessions', 'scans', 'records', 'refresh_tokens')
		ORDER BY rel.relname, con.conname`)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()
	var out []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.Name, &fk.Table, &fk.RefTable, &fk.Def); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

func missingCascades(fks []foreignKey) []string {
	var missing []string
	for child, parent := range cascadeChildren {
		ok := false
		for _, fk := range fks {
			if fk.Table == child && fk.RefTable == parent && strings.Contains(fk.Def, "ON DELETE CASCADE") {
				ok = true
				break
			}
		}
		if !ok {
			missing = append(missing, child+"->"+parent)
		}
	}
	return missing
}
