package moduleinfo

import "testing"

func TestTranscriptMetadata(t *testing.T) {
	meta := TranscriptMetadata("tone-test", "s-1")
	if meta["generator"] != Info.GeneratorID {
		t.Fatalf("unexpected generator %q", meta["generator"])
	}
	if meta["model"] != "tone-test" || meta["session_id"] != "s-1" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if meta["version"] == "" {
		t.Fatalf("expected version")
	}
}
