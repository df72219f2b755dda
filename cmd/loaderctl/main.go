// Package main is loaderctl, the operator CLI for the ETL monitoring
// platform: approval transitions, backfill submission, signal queries,
// and schema migrations, all against a live Postgres/Redis connection.
package main

import (
	"os"

	"github.com/vitaliisemenov/etl-monitor/cmd/loaderctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
