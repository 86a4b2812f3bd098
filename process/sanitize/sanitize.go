// Package sanitize empties the service tables, optionally reseeding roles and
// the admin operator afterwards.
package sanitize

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"cardscan/pkg/store"
)

// DefaultTables are the tables the service owns, children first.
var DefaultTables = []string{"records", "scans", "refresh_tokens", "sessions", "users", "roles"}

var nameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Options controls Run.
type Options struct {
	Tables []string
	// DryRun only prints what would be truncated.
	DryRun bool
	// Yes confirms the destructive step.
	Yes bool
	// ReseedPassword, when set, recreates roles and the admin operator.
	ReseedPassword string
}

// ValidTables drops empty and invalid identifiers.
func ValidTables(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !nameRE.MatchString(n) {
			log.Warn().Str("table", n).Msg("skipping invalid table name")
			continue
		}
		out = append(out, n)
	}
	return out
}

// TruncateStatement quotes the validated identifiers into one statement.
func TruncateStatement(tables []string) string {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = `"` + t + `"`
	}
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
}

// Run truncates the requested tables that exist in the public schema.
func Run(ctx context.Context, w io.Writer, gdb *gorm.DB, opts Options) error {
	wanted := ValidTables(opts.Tables)
	if len(wanted) == 0 {
		wanted = DefaultTables
	}
	var existing []string
	for _, t := range wanted {
		var cnt int64
		if err := gdb.WithContext(ctx).Raw("SELECT count(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = ?", t).Scan(&cnt).Error; err != nil {
			return fmt.Errorf("query pg_tables for %s: %w", t, err)
		}
		if cnt > 0 {
			existing = append(existing, t)
		} else {
			log.Info().Str("table", t).Msg("table not found, skipping")
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(w, "no requested tables present in the database; nothing to do")
		return nil
	}

	fmt.Fprintln(w, "Tables considered for truncation:")
	for _, t := range existing {
		fmt.Fprintf(w, " - %s\n", t)
	}
	if opts.DryRun {
		fmt.Fprintln(w, "dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return nil
	}
	if !opts.Yes {
		fmt.Fprintln(w, "Destructive operation. Pass --yes to confirm execution. Aborting.")
		return nil
	}

	stmt := TruncateStatement(existing)
	log.Info().Str("sql", stmt).Msg("executing")
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := gdb.WithContext(tctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	fmt.Fprintln(w, "Truncate completed.")

	if opts.ReseedPassword != "" {
		if err := store.Seed(ctx, store.NewGormStore(gdb), opts.ReseedPassword); err != nil {
			return fmt.Errorf("reseed: %w", err)
		}
		fmt.Fprintln(w, "Roles and admin operator reseeded.")
	}
	return nil
}
