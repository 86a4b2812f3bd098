// Command reset_password sets a new password for an operator.
package main

import (
	"context"
	"fmt"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"cardscan/pkg/cliargs"
)

type args struct {
	Username string `arg:"--username,required" help:"username to reset"`
	Password string `arg:"--password,required" help:"new plaintext password (min 6 chars)"`

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
	ctx := context.Background()
	user, err := st.UserByUsername(ctx, a.Username)
	if err != nil {
		log.Fatal().Err(err).Str("username", a.Username).Msg("user not found")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("bcrypt")
	}
	if err := st.UpdatePassword(ctx, user.ID, hash); err != nil {
		log.Fatal().Err(err).Msg("update failed")
	}
	fmt.Printf("Password reset for user %s\n", user.Username)
}
