// Command create_user adds an operator account to the database.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/models"
	"cardscan/pkg/cliargs"
	"cardscan/pkg/store"
)

type args struct {
	Username string `arg:"positional,required"`
	Password string `arg:"positional,required"`
	Admin    bool   `arg:"--admin" help:"grant the administrator role"`

	cliargs.Log
	cliargs.DB
}

func main() {
	_ = godotenv.Load()
	var a args
	p := arg.MustParse(&a)
	a.Log.Setup()
	if len(a.Password) < 6 {
		p.Fail("password too short (min 6)")
	}

	st, err := a.DB.Open(false)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	role := models.RoleUser
	if a.Admin {
		role = models.RoleAdministrator
	}
	ctx := context.Background()
	user, err := store.CreateOperator(ctx, st, a.Username, a.Password, role)
	if errors.Is(err, store.ErrExists) {
		existing, _ := st.UserByUsername(ctx, a.Username)
		if existing != nil {
			fmt.Printf("user %s already exists (id=%d)\n", a.Username, existing.ID)
		}
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("create user")
	}
	fmt.Printf("created user %s id=%d role=%s\n", user.Username, user.ID, role)
}
