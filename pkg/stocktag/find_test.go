package stocktag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFind(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b.jpg", "a.jpg", "sub/c.jpeg", ".hidden.jpg", ".cache/d.jpg", "notes.txt"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	single := writeJPEG(t, t.TempDir(), "single.jpg")

	is, err := Find(root, single)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	var got []string
	for _, i := range is {
		rel, err := filepath.Rel(root, i.Path)
		if err != nil || i.Path == single {
			rel = i.Name
		}
		got = append(got, rel)
	}

	want := []string{"a.jpg", "b.jpg", "notes.txt", "sub/c.jpeg", "single.jpg"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Find mismatch (-want +got):\n%s", diff)
	}
}

func TestFindMissing(t *testing.T) {
	if _, err := Find(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Find on missing path succeeded")
	}
}
