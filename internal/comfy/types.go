package comfy

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// Artifact kinds reported under a node's outputs.
const (
	KindGifs   = "gifs"
	KindVideos = "videos"
	KindImages = "images"
)

var fallbackKinds = []string{KindGifs, KindVideos, KindImages}

type promptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id"`
}

type promptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
	Error      json.RawMessage            `json:"error"`
}

// File is one produced file as reported by the engine.
type File struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	FullPath  string `json:"fullpath"`
}

// RemotePath identifies the file on the engine host.
func (f File) RemotePath() string {
	if f.FullPath != "" {
		return f.FullPath
	}
	if f.Subfolder != "" {
		return path.Join(f.Subfolder, f.Filename)
	}
	return f.Filename
}

// NodeOutput holds a node's outputs keyed by artifact kind. Values that are
// not file lists (text previews, for example) are ignored.
type NodeOutput map[string]json.RawMessage

// Files decodes the files listed under kind.
func (o NodeOutput) Files(kind string) []File {
	raw, ok := o[kind]
	if !ok {
		return nil
	}
	var files []File
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil
	}
	kept := files[:0]
	for _, file := range files {
		if strings.TrimSpace(file.Filename) != "" {
			kept = append(kept, file)
		}
	}
	return kept
}

// ExecutionStatus is the engine's summary of a finished prompt.
type ExecutionStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// HistoryEntry is one prompt's record in /api/history.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  ExecutionStatus       `json:"status"`
}

// Failed reports whether the engine marked the prompt as errored.
func (h HistoryEntry) Failed() bool {
	return strings.EqualFold(h.Status.StatusStr, "error")
}

// Done reports whether the prompt has finished, successfully or not.
func (h HistoryEntry) Done() bool {
	return len(h.Outputs) > 0 || h.Status.Completed || h.Failed()
}

// ErrorMessage extracts the engine's exception message, if any.
func (h HistoryEntry) ErrorMessage() string {
	for _, raw := range h.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var detail struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		msg := strings.TrimSpace(detail.ExceptionMessage)
		if detail.NodeID != "" {
			msg = "node " + detail.NodeID + " (" + detail.NodeType + "): " + msg
		}
		return msg
	}
	return ""
}

// SelectArtifact picks the file to download from the declared output node.
// Without a declared kind the first non-empty of gifs, videos, and images
// wins. Only when no node is declared are all nodes scanned in id order; a
// declared node without a file yields no artifact.
func (h HistoryEntry) SelectArtifact(node, kind string) (File, bool) {
	kinds := fallbackKinds
	if kind != "" {
		kinds = []string{kind}
	}
	pick := func(output NodeOutput) (File, bool) {
		for _, k := range kinds {
			if files := output.Files(k); len(files) > 0 {
				return files[0], true
			}
		}
		return File{}, false
	}
	if node != "" {
		return pick(h.Outputs[node])
	}
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if file, ok := pick(h.Outputs[id]); ok {
			return file, true
		}
	}
	return File{}, false
}

// SystemStats is the subset of /api/system_stats used by preflight.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		ComfyUIVersion string `json:"comfyui_version"`
		PythonVersion  string `json:"python_version"`
	} `json:"system"`
	Devices []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		VRAMTotal int64  `json:"vram_total"`
		VRAMFree  int64  `json:"vram_free"`
	} `json:"devices"`
}
