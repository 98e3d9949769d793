package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes a text fixture (storyboard documents, mostly) to the
// target path, creating parent directories as needed.
func WriteFile(t testing.TB, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
