package app

import (
	"os"
	"strconv"
	"strings"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether binaries should skip runtime side effects.
// It accepts "1" and any value strconv.ParseBool treats as true.
func InTestMode() bool {
	raw := strings.TrimSpace(os.Getenv(testModeEnv))
	if raw == "" {
		return false
	}
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}
