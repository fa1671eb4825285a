package attrcache

import (
	"os"
	"testing"
	"time"
)

func writeFileImpl(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func touch(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("Chtimes %s: %v", path, err)
	}
}
