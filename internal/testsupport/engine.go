package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeEngine is an in-process render engine speaking the prompt, history,
// view, and system_stats endpoints.
type FakeEngine struct {
	Server *httptest.Server

	// OutputNode and OutputKind place produced files in history outputs.
	OutputNode string
	OutputKind string
	// Route, when set, picks the output node and kind per submitted graph.
	Route func(graph map[string]any) (node, kind string)
	// PendingPolls is the number of history polls answered with an empty
	// object before a prompt finishes.
	PendingPolls int
	// NeverFinish keeps every prompt pending.
	NeverFinish bool
	// Reject returns a non-empty reason to answer a submission with HTTP 400
	// and node errors.
	Reject func(graph map[string]any) string
	// Fail returns a non-empty message to report an execution error for the
	// prompt in history.
	Fail func(graph map[string]any) string
	// MissingDownloads answers /api/view with 404.
	MissingDownloads bool

	mu        sync.Mutex
	submitted []map[string]any
	clientIDs []string
	polls     map[string]int
	graphs    map[string]map[string]any
	active    int
	peak      int
}

// NewFakeEngine starts a fake engine that finishes every prompt on the first
// poll with a gifs artifact on node 57.
func NewFakeEngine(t testing.TB) *FakeEngine {
	t.Helper()

	fe := &FakeEngine{
		OutputNode: "57",
		OutputKind: "gifs",
		polls:      make(map[string]int),
		graphs:     make(map[string]map[string]any),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/prompt", fe.handlePrompt)
	mux.HandleFunc("GET /api/history/{id}", fe.handleHistory)
	mux.HandleFunc("GET /api/view", fe.handleView)
	mux.HandleFunc("GET /api/system_stats", fe.handleStats)
	fe.Server = httptest.NewServer(mux)
	t.Cleanup(fe.Server.Close)
	return fe
}

// URL returns the engine base URL.
func (fe *FakeEngine) URL() string {
	return fe.Server.URL
}

// Submitted returns the graphs accepted so far, in arrival order.
func (fe *FakeEngine) Submitted() []map[string]any {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]map[string]any(nil), fe.submitted...)
}

// ClientIDs returns the client_id of every accepted submission.
func (fe *FakeEngine) ClientIDs() []string {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]string(nil), fe.clientIDs...)
}

// PeakInFlight returns the largest number of prompts pending at once.
func (fe *FakeEngine) PeakInFlight() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.peak
}

// InputOf reads a node input from a submitted graph.
func InputOf(graph map[string]any, node, input string) any {
	n, ok := graph[node].(map[string]any)
	if !ok {
		return nil
	}
	inputs, ok := n["inputs"].(map[string]any)
	if !ok {
		return nil
	}
	return inputs[input]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (fe *FakeEngine) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   map[string]any `json:"prompt"`
		ClientID string         `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}, "node_errors": map[string]any{}})
		return
	}
	if fe.Reject != nil {
		if reason := fe.Reject(req.Prompt); reason != "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":       map[string]any{"type": "prompt_outputs_failed_validation", "message": reason},
				"node_errors": map[string]any{"12": map[string]any{"errors": []any{map[string]any{"message": reason}}}},
			})
			return
		}
	}

	fe.mu.Lock()
	fe.submitted = append(fe.submitted, req.Prompt)
	fe.clientIDs = append(fe.clientIDs, req.ClientID)
	number := len(fe.submitted)
	id := fmt.Sprintf("prompt-%d", number)
	fe.graphs[id] = req.Prompt
	fe.active++
	fe.peak = max(fe.peak, fe.active)
	fe.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "number": number, "node_errors": map[string]any{}})
}

func (fe *FakeEngine) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fe.mu.Lock()
	graph, known := fe.graphs[id]
	fe.polls[id]++
	polls := fe.polls[id]
	fe.mu.Unlock()

	if !known || fe.NeverFinish || polls <= fe.PendingPolls {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	fe.mu.Lock()
	if polls == fe.PendingPolls+1 {
		fe.active--
	}
	fe.mu.Unlock()

	if fe.Fail != nil {
		if msg := fe.Fail(graph); msg != "" {
			writeJSON(w, http.StatusOK, map[string]any{id: map[string]any{
				"outputs": map[string]any{},
				"status": map[string]any{
					"status_str": "error",
					"completed":  false,
					"messages": []any{
						[]any{"execution_start", map[string]any{"prompt_id": id}},
						[]any{"execution_error", map[string]any{"node_id": "30", "node_type": "WanVideoAnimateEmbeds", "exception_message": msg}},
					},
				},
			}})
			return
		}
	}

	node, kind := fe.OutputNode, fe.OutputKind
	if fe.Route != nil {
		node, kind = fe.Route(graph)
	}
	filename := "ComfyUI_" + id + ".bin"
	writeJSON(w, http.StatusOK, map[string]any{id: map[string]any{
		"outputs": map[string]any{
			node: map[string]any{
				kind: []any{map[string]any{
					"filename":  filename,
					"subfolder": "batch",
					"type":      "output",
					"fullpath":  "/srv/comfy/output/batch/" + filename,
				}},
			},
		},
		"status": map[string]any{"status_str": "success", "completed": true, "messages": []any{}},
	}})
}

func (fe *FakeEngine) handleView(w http.ResponseWriter, r *http.Request) {
	if fe.MissingDownloads {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	if query.Get("type") != "output" {
		http.Error(w, "bad type", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = fmt.Fprintf(w, "artifact:%s/%s", query.Get("subfolder"), query.Get("filename"))
}

func (fe *FakeEngine) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"system":  map[string]any{"os": "posix", "comfyui_version": "0.3.60", "python_version": "3.12.3"},
		"devices": []any{map[string]any{"name": "cuda:0 NVIDIA RTX 4090", "type": "cuda", "vram_total": 25757220864, "vram_free": 24000000000}},
	})
}

// RouteByNode reports images on node "9" for graphs containing it (the
// portrait template) and gifs on node "57" otherwise.
func RouteByNode(graph map[string]any) (string, string) {
	if _, ok := graph["9"]; ok {
		return "9", "images"
	}
	return "57", "gifs"
}
