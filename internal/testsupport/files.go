package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// PatternByte is the byte WriteSourceFile stores at offset off.
func PatternByte(off int64) byte {
	return byte(off % 251)
}

// WriteSourceFile creates path with size bytes of a position-dependent
// pattern so reads at any offset can be checked with PatternByte.
func WriteSourceFile(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for written := int64(0); written < size; {
		n := min(int64(chunkSize), size-written)
		for i := int64(0); i < n; i++ {
			buf[i] = PatternByte(written + i)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		written += n
	}
}
