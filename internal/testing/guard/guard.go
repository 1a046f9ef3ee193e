// Package guard switches the ledger binaries into test mode when imported
// by a test so that main returns before dialling Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// Env is the variable the binaries read through app.InTestMode.
const Env = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	Enable()
}

// Enable sets Env to 1 unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
