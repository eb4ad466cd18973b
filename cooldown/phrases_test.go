package cooldown

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/overlay-bot/testutil"
)

func TestPhrasesFallBackToDefaults(t *testing.T) {
	p := NewPhrases("", "   ", "# comment")
	if p.Len() != len(defaultPhrases) {
		t.Fatalf("len = %d, want defaults", p.Len())
	}
	if p.Random() == "" {
		t.Fatal("empty phrase")
	}
}

func TestLoadPhrasesFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"phrases.txt":  "One.\n\nTwo.\n# skipped\n",
		"phrases.json": `["One.", "Two."]`,
		"phrases.yaml": "- One.\n- Two.\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			p, err := LoadPhrases(context.Background(), path)
			if err != nil {
				t.Fatalf("LoadPhrases: %v", err)
			}
			if p.Len() != 2 {
				t.Fatalf("len = %d, want 2", p.Len())
			}
			if got := p.Random(); got != "One." && got != "Two." {
				t.Fatalf("Random = %q", got)
			}
		})
	}
}

func TestReloadKeepsPoolOnError(t *testing.T) {
	srv := testutil.NewMockFileServer(t)
	srv.Set("/phrases.json", `["Remote."]`)
	p, err := LoadPhrases(context.Background(), srv.URL+"/phrases.json")
	if err != nil {
		t.Fatalf("LoadPhrases: %v", err)
	}
	srv.Set("/phrases.json", `not json`)
	if err := p.Reload(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
	if got := p.Random(); got != "Remote." {
		t.Fatalf("Random = %q after failed reload", got)
	}
}
