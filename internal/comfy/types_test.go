package comfy

import (
	"encoding/json"
	"testing"
)

func TestSelectArtifact(t *testing.T) {
	payload := `{
	  "outputs": {
	    "57": {"gifs": [{"filename": "a.mp4", "subfolder": "", "type": "output", "fullpath": "/out/a.mp4"}]},
	    "60": {"images": [{"filename": "p.png", "subfolder": "previews", "type": "temp"}], "text": ["hello"]}
	  },
	  "status": {"status_str": "success", "completed": true, "messages": []}
	}`
	var entry HistoryEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !entry.Done() || entry.Failed() {
		t.Fatalf("unexpected state %+v", entry.Status)
	}

	file, ok := entry.SelectArtifact("57", "")
	if !ok || file.Filename != "a.mp4" || file.RemotePath() != "/out/a.mp4" {
		t.Fatalf("unexpected declared artifact %+v", file)
	}
	if file, ok := entry.SelectArtifact("57", KindImages); ok {
		t.Fatalf("expected no artifact from other nodes, got %+v", file)
	}
	if _, ok := entry.SelectArtifact("57", KindVideos); ok {
		t.Fatal("expected no videos artifact")
	}
	file, ok = entry.SelectArtifact("60", "")
	if !ok || file.Filename != "p.png" || file.RemotePath() != "previews/p.png" {
		t.Fatalf("unexpected node 60 artifact %+v", file)
	}
	if files := entry.Outputs["60"].Files("text"); files != nil {
		t.Fatalf("expected non-file output ignored, got %v", files)
	}
}

func TestSelectArtifactIgnoresPreviewOnOtherNode(t *testing.T) {
	payload := `{
	  "outputs": {
	    "57": {"gifs": []},
	    "9": {"images": [{"filename": "preview.png", "subfolder": "", "type": "temp"}]}
	  },
	  "status": {"status_str": "success", "completed": true, "messages": []}
	}`
	var entry HistoryEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if file, ok := entry.SelectArtifact("57", ""); ok {
		t.Fatalf("expected no artifact for empty declared node, got %+v", file)
	}
	if _, ok := entry.SelectArtifact("42", ""); ok {
		t.Fatal("expected no artifact for an absent declared node")
	}
	file, ok := entry.SelectArtifact("", "")
	if !ok || file.Filename != "preview.png" {
		t.Fatalf("expected scan without a declared node, got %+v", file)
	}
}

func TestErrorMessage(t *testing.T) {
	payload := `{"outputs": {}, "status": {"status_str": "error", "completed": false, "messages": [
	  ["execution_start", {"prompt_id": "x"}],
	  ["execution_error", {"node_id": "3", "node_type": "KSampler", "exception_message": "boom"}]
	]}}`
	var entry HistoryEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !entry.Failed() || !entry.Done() {
		t.Fatal("expected failed entry")
	}
	if got := entry.ErrorMessage(); got != "node 3 (KSampler): boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
