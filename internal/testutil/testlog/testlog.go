package testlog

import (
	"testing"

	"github.com/danmuck/spellctl/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures the test logging profile and brackets the test with
// start and done lines so fan-out logs can be attributed.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("spellctl test start")
	t.Cleanup(func() {
		log.Debug().Str("test", t.Name()).Bool("failed", t.Failed()).Msg("spellctl test done")
	})
}
