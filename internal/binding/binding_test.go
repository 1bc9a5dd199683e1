package binding_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"comfybatch/internal/binding"
	"comfybatch/internal/graph"
	"comfybatch/internal/media/ffprobe"
	"comfybatch/internal/services"
)

const animateTemplate = `{
  "12": {"class_type": "LoadVideo", "inputs": {"video": ""}},
  "21": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "22": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "30": {"class_type": "WanAnimate", "inputs": {"num_frames": 81, "frame_window_size": 81, "steps": 4}},
  "10": {"class_type": "LoraStack", "inputs": {"lora_1": {"on": false, "lora": "None", "strength": 1}}}
}`

type stubProber struct {
	frames ffprobe.Frames
	err    error
	calls  int
}

func (s *stubProber) Frames(context.Context, string) (ffprobe.Frames, error) {
	s.calls++
	return s.frames, s.err
}

func parse(t *testing.T) *graph.Template {
	t.Helper()
	tmpl, err := graph.Parse(strings.NewReader(animateTemplate))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tmpl
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		total int
		fps   float64
		want  int
	}{
		{48, 24, 32},
		{100, 30, 54},
		{0, 30, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := binding.FrameCount(tt.total, tt.fps); got != tt.want {
			t.Fatalf("FrameCount(%d, %v) = %d want %d", tt.total, tt.fps, got, tt.want)
		}
	}
}

func TestDefaultInput(t *testing.T) {
	tests := map[string]string{
		"person":      "image",
		"background":  "image",
		"ref_image":   "image",
		"video":       "video",
		"seed":        "seed",
		"num_frames":  "num_frames",
		"custom_text": "custom_text",
	}
	for key, want := range tests {
		if got := binding.DefaultInput(key); got != want {
			t.Fatalf("DefaultInput(%q) = %q want %q", key, got, want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	b := binding.FromConfig(map[string]string{
		"video":  "12",
		"prompt": "6",
		"model":  "4:ckpt_name",
	}, map[string]string{"prompt": "string", "model": "unet_name"})
	if b["video"] != (binding.Slot{Node: "12", Input: "video"}) {
		t.Fatalf("unexpected video slot: %+v", b["video"])
	}
	if b["prompt"] != (binding.Slot{Node: "6", Input: "string"}) {
		t.Fatalf("expected override input for prompt, got %+v", b["prompt"])
	}
	if b["model"] != (binding.Slot{Node: "4", Input: "ckpt_name"}) {
		t.Fatalf("explicit input must win, got %+v", b["model"])
	}
}

func TestBindWritesInputsAndRetimes(t *testing.T) {
	tmpl := parse(t)
	prober := &stubProber{frames: ffprobe.Frames{Count: 48, Rate: 24}}
	binder := binding.New(prober, nil)
	bindings := binding.FromConfig(map[string]string{
		"video":             "12",
		"person":            "21",
		"background":        "22",
		"num_frames":        "30",
		"frame_window_size": "30",
	}, nil)
	inputs := map[string]any{"video": "/v/a.mp4", "person": "/p/x.png", "background": "/b/1.png"}

	if err := binder.Bind(context.Background(), tmpl, bindings, inputs); err != nil {
		t.Fatalf("Bind returned error: %v", err)
	}
	checks := map[[2]string]any{
		{"12", "video"}:             "/v/a.mp4",
		{"21", "image"}:             "/p/x.png",
		{"22", "image"}:             "/b/1.png",
		{"30", "num_frames"}:        32,
		{"30", "frame_window_size"}: 32,
	}
	for slot, want := range checks {
		got, _ := tmpl.Input(slot[0], slot[1])
		if got != want {
			t.Fatalf("%s.%s = %v want %v", slot[0], slot[1], got, want)
		}
	}
	if steps, _ := tmpl.Input("30", "steps"); steps.(json.Number).String() != "4" {
		t.Fatalf("unbound input changed: %v", steps)
	}
	if prober.calls != 1 {
		t.Fatalf("expected a single probe, got %d", prober.calls)
	}
}

func TestBindSkipsRetimeWithoutVideo(t *testing.T) {
	tmpl := parse(t)
	prober := &stubProber{}
	binder := binding.New(prober, nil)
	bindings := binding.FromConfig(map[string]string{"person": "21", "num_frames": "30"}, nil)
	if err := binder.Bind(context.Background(), tmpl, bindings, map[string]any{"person": "/p/x.png"}); err != nil {
		t.Fatalf("Bind returned error: %v", err)
	}
	if prober.calls != 0 {
		t.Fatal("expected no probe without a video input")
	}
}

func TestBindMissingNodeLeavesTemplateUnmodified(t *testing.T) {
	tmpl := parse(t)
	before, _ := json.Marshal(tmpl)
	binder := binding.New(nil, nil)
	bindings := binding.FromConfig(map[string]string{"person": "21", "video": "99"}, nil)

	err := binder.Bind(context.Background(), tmpl, bindings, map[string]any{"person": "/p/x.png", "video": "/v/a.mp4"})
	if !errors.Is(err, services.ErrTemplateBinding) {
		t.Fatalf("expected template binding error, got %v", err)
	}
	after, _ := json.Marshal(tmpl)
	if string(before) != string(after) {
		t.Fatalf("template modified on failed bind:\nbefore %s\nafter  %s", before, after)
	}
}

func TestBindProbeFailure(t *testing.T) {
	tmpl := parse(t)
	binder := binding.New(&stubProber{err: errors.New("corrupt")}, nil)
	bindings := binding.FromConfig(map[string]string{"video": "12", "num_frames": "30"}, nil)
	err := binder.Bind(context.Background(), tmpl, bindings, map[string]any{"video": "/v/a.mp4"})
	if !errors.Is(err, services.ErrTemplateBinding) {
		t.Fatalf("expected template binding error, got %v", err)
	}
	if v, _ := tmpl.Input("12", "video"); v != "" {
		t.Fatalf("template modified on probe failure: %v", v)
	}
}

func TestBindLoRAStack(t *testing.T) {
	tmpl := parse(t)
	binder := binding.New(nil, nil)
	bindings := binding.FromConfig(map[string]string{"lora": "10"}, nil)
	if err := binder.Bind(context.Background(), tmpl, bindings, map[string]any{"lora": []string{"alice.safetensors", "style.safetensors"}}); err != nil {
		t.Fatalf("Bind returned error: %v", err)
	}
	node, _ := tmpl.Node("10")
	if len(node.Inputs) != 2 {
		t.Fatalf("expected two lora entries, got %v", node.Inputs)
	}
	second, ok := node.Inputs["lora_2"].(map[string]any)
	if !ok || second["lora"] != "style.safetensors" || second["on"] != true || second["strength"] != 1.0 {
		t.Fatalf("unexpected lora_2: %v", node.Inputs["lora_2"])
	}
}

func TestBindRoundTrip(t *testing.T) {
	tmpl := parse(t)
	binder := binding.New(nil, nil)
	bindings := binding.FromConfig(map[string]string{"seed": "30", "prompt": "30:text"}, nil)
	if err := binder.Bind(context.Background(), tmpl, bindings, map[string]any{"seed": uint32(7), "prompt": "a cat"}); err != nil {
		t.Fatalf("Bind returned error: %v", err)
	}
	payload, err := json.Marshal(tmpl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	reparsed, err := graph.Parse(strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if v, _ := reparsed.Input("30", "seed"); v.(json.Number).String() != "7" {
		t.Fatalf("seed did not round-trip: %v", v)
	}
	if v, _ := reparsed.Input("30", "text"); v != "a cat" {
		t.Fatalf("prompt did not round-trip: %v", v)
	}
}
