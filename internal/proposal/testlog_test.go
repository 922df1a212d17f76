package proposal

import (
	"io"
	"log/slog"
)

// discardLogger silences expected warnings in tests that exercise
// contract-violation paths.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
