package planner

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"comfybatch/internal/binding"
	"comfybatch/internal/catalog"
	"comfybatch/internal/config"
	"comfybatch/internal/logging"
	"comfybatch/internal/services"
)

// Output categories, used as the first directory level under the output base.
const (
	CategoryV2V          = "v2v"
	CategoryT2IGenerated = "t2i_generated"
	CategoryT2IV2V       = "t2i_v2v"
)

// Influencer is a persona for text-to-image generation.
type Influencer struct {
	Name    string
	Keyword string
	LoRA    string
}

// PoseStyle is a named prompt fragment.
type PoseStyle struct {
	Name   string
	Prompt string
}

// Workflow is the resolved, immutable definition a stage renders with.
type Workflow struct {
	Name         string
	Kind         Kind
	TemplatePath string
	Bindings     binding.Bindings
	OutputNode   string
	OutputKind   string
	Extension    string

	// v2v
	VideoDir       string
	BackgroundDir  string
	UsesBackground bool
	Influencers    []string
	Enumeration    string
	InputBaseDir   string

	// t2i
	Model    string
	Poses    []PoseStyle
	Outfits  []string
	Prompts  []string
	Personas []Influencer
}

// t2iSlotDefaults are the node input names written by text-to-image workflows
// when a binding omits them.
var t2iSlotDefaults = map[string]string{
	"prompt": "string",
	"model":  "unet_name",
}

func newWorkflow(cfg *config.Config, wf *config.Workflow) (*Workflow, error) {
	out := &Workflow{
		Name:         wf.Name,
		TemplatePath: wf.WorkflowFile,
		OutputNode:   wf.OutputNode,
		OutputKind:   wf.OutputKind,
		Extension:    wf.Extension,
	}
	switch wf.Type {
	case config.TypeV2V:
		out.Kind = KindV2V
		out.Bindings = binding.FromConfig(wf.Inputs, nil)
		out.VideoDir = wf.SrcVideoDir
		out.BackgroundDir = wf.BackgroundDir
		out.UsesBackground = wf.BackgroundsEnabled()
		out.Influencers = append([]string(nil), wf.Influencers...)
		out.Enumeration = wf.Enumeration
		out.InputBaseDir = cfg.Paths.InputBaseDir
		if err := requireBindings(out, binding.KeyVideo, binding.KeyPerson); err != nil {
			return nil, err
		}
		if out.UsesBackground {
			if err := requireBindings(out, binding.KeyBackground); err != nil {
				return nil, err
			}
		}
	case config.TypeT2I:
		out.Kind = KindT2I
		out.Bindings = binding.FromConfig(wf.Inputs, t2iSlotDefaults)
		out.Model = wf.Model
		out.Outfits = append([]string(nil), wf.Outfits...)
		out.Prompts = append([]string(nil), wf.Prompts...)
		for _, pose := range wf.PoseStyles {
			out.Poses = append(out.Poses, PoseStyle{Name: pose.Name, Prompt: pose.Prompt})
		}
		for _, inf := range wf.InfluencerConfigs {
			out.Personas = append(out.Personas, Influencer{Name: inf.Name, Keyword: inf.Keyword, LoRA: inf.LoRA})
		}
		if err := requireBindings(out, "prompt", "seed"); err != nil {
			return nil, err
		}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "planner", "resolve",
			fmt.Sprintf("workflow %q has unsupported type %q", wf.Name, wf.Type), nil)
	}
	return out, nil
}

func requireBindings(wf *Workflow, keys ...string) error {
	for _, key := range keys {
		slot, ok := wf.Bindings[key]
		if !ok || slot.Node == "" {
			return services.Wrap(services.ErrConfiguration, "planner", "resolve",
				fmt.Sprintf("workflow %q does not bind %q", wf.Name, key), nil)
		}
	}
	return nil
}

// mandatoryCatalog lists a catalog that must exist and be non-empty.
func mandatoryCatalog(folder string, kind catalog.Kind, label string) ([]string, error) {
	items, err := catalog.List(folder, kind)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "planner", "catalog",
			fmt.Sprintf("no %s found in %s", label, folder), nil)
	}
	return items, nil
}

// sources lists the videos and, when used, the backgrounds of a v2v workflow.
func (w *Workflow) sources() (videos, backgrounds []string, err error) {
	videos, err = mandatoryCatalog(w.VideoDir, catalog.Video, "source videos")
	if err != nil {
		return nil, nil, err
	}
	if w.UsesBackground {
		backgrounds, err = mandatoryCatalog(w.BackgroundDir, catalog.Image, "backgrounds")
		if err != nil {
			return nil, nil, err
		}
	}
	return videos, backgrounds, nil
}

// portraits lists each influencer's images from {input_base}/{influencer}.
// Missing or empty folders are skipped with a warning.
func (w *Workflow) portraits(logger *slog.Logger) (Portraits, error) {
	var portraits Portraits
	for _, name := range w.Influencers {
		dir := filepath.Join(w.InputBaseDir, name)
		images, err := catalog.List(dir, catalog.Image)
		if err != nil {
			logger.Warn("influencer catalog missing; skipping",
				logging.String(logging.FieldInfluencer, name),
				logging.String("path", dir),
				logging.Error(err),
				logging.String(logging.FieldEventType, "influencer_skipped"),
				logging.String(logging.FieldErrorHint, "create the folder or remove the influencer from the workflow"),
			)
			continue
		}
		if len(images) == 0 {
			logger.Warn("influencer catalog empty; skipping",
				logging.String(logging.FieldInfluencer, name),
				logging.String("path", dir),
				logging.String(logging.FieldEventType, "influencer_skipped"),
			)
			continue
		}
		portraits.Add(name, images)
	}
	if portraits.Empty() {
		return Portraits{}, services.Wrap(services.ErrConfiguration, "planner", "catalog",
			fmt.Sprintf("no influencer images found under %s for workflow %q", w.InputBaseDir, w.Name), nil)
	}
	return portraits, nil
}
