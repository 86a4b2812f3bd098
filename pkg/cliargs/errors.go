package cliargs

import "errors"

var errNoDSN = errors.New("DB_DSN not set; export DB_DSN or pass --db-dsn")
