package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"comfybatch/internal/config"
)

// AnimateTemplate is a minimal v2v workflow graph with video, portrait,
// background, frame, and output nodes.
const AnimateTemplate = `{
  "12": {"class_type": "VHS_LoadVideo", "inputs": {"video": "", "force_rate": 16}},
  "21": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "22": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "30": {"class_type": "WanVideoAnimateEmbeds", "inputs": {"num_frames": 81, "frame_window_size": 77}},
  "57": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 16, "images": ["30", 0]}}
}`

// PortraitTemplate is a minimal t2i workflow graph.
const PortraitTemplate = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20}},
  "4": {"class_type": "UNETLoader", "inputs": {"unet_name": ""}},
  "6": {"class_type": "PrimitiveString", "inputs": {"string": ""}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "ComfyUI"}},
  "10": {"class_type": "Power Lora Loader (rgthree)", "inputs": {}}
}`

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It declares a v2v workflow "animate", a t2i workflow "portraits", and a
// composite "portraits_to_video"; "animate" is active. Template files are
// written; asset folders are not.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Seed = 1
	cfgVal.ActiveWorkflow = "animate"
	cfgVal.Engine.URL = "http://127.0.0.1:1"
	cfgVal.Engine.PollIntervalMillis = 5
	cfgVal.Engine.TimeoutSeconds = 5
	cfgVal.Paths.InputBaseDir = filepath.Join(base, "input")
	cfgVal.Paths.OutputBaseDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Notifications.NtfyTopic = ""

	animatePath := filepath.Join(base, "workflows", "animate.json")
	portraitPath := filepath.Join(base, "workflows", "portraits.json")
	writeText(t, animatePath, AnimateTemplate)
	writeText(t, portraitPath, PortraitTemplate)

	cfgVal.Workflows = []config.Workflow{
		{
			Name:          "animate",
			Type:          config.TypeV2V,
			WorkflowFile:  animatePath,
			OutputNode:    "57",
			OutputKind:    "gifs",
			Extension:     "mp4",
			SrcVideoDir:   filepath.Join(base, "videos"),
			BackgroundDir: filepath.Join(base, "backgrounds"),
			Influencers:   []string{"alice", "bob"},
			Enumeration:   config.EnumerationCross,
			Inputs: map[string]string{
				"video":      "12",
				"person":     "21",
				"background": "22",
			},
		},
		{
			Name:         "portraits",
			Type:         config.TypeT2I,
			WorkflowFile: portraitPath,
			OutputNode:   "9",
			OutputKind:   "images",
			Extension:    "png",
			Model:        "flux1-dev.safetensors",
			Inputs: map[string]string{
				"prompt": "6",
				"model":  "4",
				"seed":   "3",
				"lora":   "10",
			},
			PoseStyles: []config.PoseStyle{{Name: "standing", Prompt: "standing"}},
			Outfits:    []string{"red dress"},
			InfluencerConfigs: []config.Influencer{
				{Name: "alice", Keyword: "alicekw", LoRA: "alice.safetensors"},
				{Name: "bob", Keyword: "bobkw"},
			},
		},
		{
			Name:        "portraits_to_video",
			Type:        config.TypeComposite,
			T2IWorkflow: "portraits",
			V2VWorkflow: "animate",
		},
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEngineURL points the config at a (fake) engine.
func WithEngineURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.URL = url
	}
}

// WithActiveWorkflow selects the workflow run by default.
func WithActiveWorkflow(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ActiveWorkflow = name
	}
}

// WithConcurrency sets the number of jobs rendered at once.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Concurrency = n
	}
}

// WithoutBackgrounds disables background images for the animate workflow.
func WithoutBackgrounds() ConfigOption {
	return func(b *configBuilder) {
		disabled := false
		wf, _ := b.cfg.Workflow("animate")
		wf.UsesBackground = &disabled
		delete(wf.Inputs, "background")
	}
}

// WithRetiming binds num_frames and frame_window_size on the animate workflow
// and stubs ffprobe on PATH.
func WithRetiming() ConfigOption {
	return func(b *configBuilder) {
		wf, _ := b.cfg.Workflow("animate")
		wf.Inputs["num_frames"] = "30"
		wf.Inputs["frame_window_size"] = "30"
		WithStubbedFFprobe(48, "24/1")(b)
	}
}

// WithStubbedFFprobe writes an ffprobe stub reporting frames at rate and
// prepends it to PATH.
func WithStubbedFFprobe(frames int, rate string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := "#!/bin/sh\ncat <<'JSON'\n" +
			`{"streams":[{"codec_type":"video","avg_frame_rate":"` + rate + `","nb_frames":"` + itoa(frames) + `"}],"format":{}}` +
			"\nJSON\n"
		if err := os.WriteFile(filepath.Join(binDir, "ffprobe"), []byte(script), 0o755); err != nil {
			b.t.Fatalf("write ffprobe stub: %v", err)
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputBaseDir)
}

func writeText(t testing.TB, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
