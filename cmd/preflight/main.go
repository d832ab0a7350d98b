package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hamed0406/opsmonitor/internal/config"
)

func main() {
	os.Exit(preflight(os.Stdout, os.Stderr))
}

// preflight checks the deployment environment and returns the exit code.
func preflight(stdout, stderr io.Writer) int {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	cfg := config.FromEnv()

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (write routes are open to anyone).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		fail("PUBLIC_API_KEYS is empty (read routes and the live feed are open).")
	}
	for _, name := range []string{"ADMIN_API_KEYS", "PUBLIC_API_KEYS"} {
		if strings.Contains(os.Getenv(name), " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; API will use SQLite at " + cfg.SQLitePath + ".")
	} else {
		ok("DATABASE_URL present")
	}

	if v := os.Getenv("CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			warn("CHECK_INTERVAL_MS=" + v + " is not a positive integer; the 60s default will be used.")
		}
	}
	ok("check interval " + cfg.CheckInterval.String())

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		warn("ALLOWED_ORIGINS empty; any origin may call the API from a browser.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.SeedFile != "" {
		if ts, err := config.LoadSeed(cfg.SeedFile); err != nil {
			fail("SEED_FILE invalid: " + err.Error())
		} else {
			ok(fmt.Sprintf("SEED_FILE has %d services", len(ts)))
		}
	}

	if cfg.SlackWebhookURL == "" {
		warn("SLACK_WEBHOOK_URL empty; transition alerts are disabled.")
	} else {
		ok("SLACK_WEBHOOK_URL present")
	}

	if failed {
		return 1
	}
	ok("preflight passed")
	return 0
}
