package attachments

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\shot 1.png`: "shot_1.png",
		"":                      "file",
		"résumé.txt":            "r__sum__.txt",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilenameKeepsExtensionWhenTruncating(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 150) + ".png")
	if len(got) != 100 || !strings.HasSuffix(got, ".png") {
		t.Fatalf("unexpected truncation: %q (%d)", got, len(got))
	}
}

func TestObjectKeyLayout(t *testing.T) {
	key := ObjectKey("f1", "shot.png")
	if !strings.HasPrefix(key, "feedback/f1/") || !strings.HasSuffix(key, "-shot.png") {
		t.Fatalf("unexpected key %q", key)
	}
	if ObjectKey("f1", "shot.png") == key {
		t.Fatal("keys must be unique per upload")
	}
}
