// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	apiAddr := strings.TrimSpace(os.Getenv("ADDR"))
	db := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	credKey := strings.TrimSpace(os.Getenv("CREDENTIALS_KEY"))
	credPath := strings.TrimSpace(os.Getenv("CREDENTIALS_PATH"))

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (admin routes will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (read routes will 401).")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if apiAddr == "" {
		warn("ADDR is empty; the daemon default will be used.")
	} else {
		ok("ADDR=" + apiAddr)
	}

	if db == "" {
		warn("DATABASE_PATH empty — nodes and history live in memory and vanish on restart.")
	} else {
		ok("DATABASE_PATH=" + db)
	}

	if credKey == "" {
		warn("CREDENTIALS_KEY empty — ssh checks with stored credentials will fail.")
	} else {
		ok("CREDENTIALS_KEY present")
		if credPath != "" {
			ok("CREDENTIALS_PATH=" + credPath)
		}
	}

	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_CHECKS")); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			fail("MAX_CONCURRENT_CHECKS must be a positive integer, got " + v)
		} else {
			ok("MAX_CONCURRENT_CHECKS=" + v)
		}
	}

	if strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL")) == "" {
		warn("SLACK_WEBHOOK_URL empty — status changes will only be logged, not alerted.")
	} else {
		ok("SLACK_WEBHOOK_URL present")
	}

	ok("preflight passed")
}
