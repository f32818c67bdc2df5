// Package testing switches the binaries into test mode when imported by a
// test package, so no test ever connects to real infrastructure.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PRECIFICA_TEST_MODE", "1")
		if os.Getenv("ML_API_BASE_URL") == "" {
			_ = os.Setenv("ML_API_BASE_URL", "http://127.0.0.1:0")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
