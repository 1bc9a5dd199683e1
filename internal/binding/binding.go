package binding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"comfybatch/internal/config"
	"comfybatch/internal/graph"
	"comfybatch/internal/logging"
	"comfybatch/internal/media/ffprobe"
	"comfybatch/internal/services"
)

// Semantic keys with special handling.
const (
	KeyVideo           = "video"
	KeyPerson          = "person"
	KeyBackground      = "background"
	KeyNumFrames       = "num_frames"
	KeyFrameWindowSize = "frame_window_size"
	KeyLoRA            = "lora"
)

// TargetFPS is the sampling rate the engine's video models expect.
const TargetFPS = 16

// Slot addresses one input of one node.
type Slot struct {
	Node  string
	Input string
}

func (s Slot) String() string {
	return s.Node + ":" + s.Input
}

// Bindings maps semantic keys to template slots.
type Bindings map[string]Slot

// FromConfig parses workflow input declarations ("node" or "node:input").
// Declarations without an input name use overrides[key] when present, else
// DefaultInput(key).
func FromConfig(inputs map[string]string, overrides map[string]string) Bindings {
	out := make(Bindings, len(inputs))
	for key, value := range inputs {
		node, input := config.ParseSlot(value)
		if input == "" {
			if override, ok := overrides[key]; ok {
				input = override
			} else {
				input = DefaultInput(key)
			}
		}
		out[key] = Slot{Node: node, Input: input}
	}
	return out
}

// DefaultInput returns the input name used when a binding omits one.
func DefaultInput(key string) string {
	switch {
	case key == KeyPerson || key == KeyBackground || strings.Contains(key, "image"):
		return "image"
	case key == KeyVideo:
		return "video"
	default:
		return key
	}
}

// FrameCount converts a clip's frame count at fps to the count needed at
// TargetFPS, rounding up.
func FrameCount(total int, fps float64) int {
	if total <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) * TargetFPS / fps))
}

// FrameProber reports frame metadata for a video file.
type FrameProber interface {
	Frames(ctx context.Context, path string) (ffprobe.Frames, error)
}

// Binder writes job inputs into templates.
type Binder struct {
	prober FrameProber
	logger *slog.Logger
}

// New constructs a Binder. prober may be nil when no workflow retimes video.
func New(prober FrameProber, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Binder{prober: prober, logger: logger.With(logging.String(logging.FieldComponent, "binder"))}
}

type write struct {
	key     string
	slot    Slot
	value   any
	replace map[string]any
}

// Bind writes inputs into tmpl according to bindings. Keys present in both
// maps are written in sorted key order. On error tmpl is unmodified.
func (b *Binder) Bind(ctx context.Context, tmpl *graph.Template, bindings Bindings, inputs map[string]any) error {
	writes, err := b.plan(ctx, bindings, inputs)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if !tmpl.Has(w.slot.Node) {
			return services.Wrap(services.ErrTemplateBinding, "binder", "bind",
				fmt.Sprintf("binding %q references node %q which is not in the template", w.key, w.slot.Node), nil)
		}
	}
	for _, w := range writes {
		var err error
		if w.replace != nil {
			err = tmpl.ReplaceInputs(w.slot.Node, w.replace)
		} else {
			err = tmpl.Set(w.slot.Node, w.slot.Input, w.value)
		}
		if err != nil {
			return err
		}
		logger := logging.WithContext(ctx, b.logger)
		logger.Debug("bound input", logging.String("key", w.key), logging.String("slot", w.slot.String()))
	}
	return nil
}

func (b *Binder) plan(ctx context.Context, bindings Bindings, inputs map[string]any) ([]write, error) {
	keys := make([]string, 0, len(bindings))
	for key := range bindings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		writes []write
		frames int
		probed bool
	)
	for _, key := range keys {
		slot := bindings[key]
		value, ok := inputs[key]
		if !ok && (key == KeyNumFrames || key == KeyFrameWindowSize) {
			video, hasVideo := inputs[KeyVideo].(string)
			if !hasVideo || video == "" {
				continue
			}
			if !probed {
				count, err := b.retime(ctx, video)
				if err != nil {
					return nil, err
				}
				frames, probed = count, true
			}
			value, ok = frames, true
		}
		if !ok {
			continue
		}
		if key == KeyLoRA {
			writes = append(writes, write{key: key, slot: slot, replace: loraStack(value)})
			continue
		}
		writes = append(writes, write{key: key, slot: slot, value: value})
	}
	return writes, nil
}

func (b *Binder) retime(ctx context.Context, video string) (int, error) {
	if b.prober == nil {
		return 0, services.Wrap(services.ErrTemplateBinding, "binder", "retime", "no frame prober configured", nil)
	}
	meta, err := b.prober.Frames(ctx, video)
	if err != nil {
		return 0, services.Wrap(services.ErrTemplateBinding, "binder", "retime", fmt.Sprintf("probe %s", video), err)
	}
	count := FrameCount(meta.Count, meta.Rate)
	if count <= 0 {
		return 0, services.Wrap(services.ErrTemplateBinding, "binder", "retime",
			fmt.Sprintf("probe %s returned unusable metadata (frames=%d fps=%.3f)", video, meta.Count, meta.Rate), nil)
	}
	return count, nil
}

func loraStack(value any) map[string]any {
	var names []string
	switch v := value.(type) {
	case []string:
		names = v
	case string:
		if strings.TrimSpace(v) != "" {
			names = []string{v}
		}
	}
	stack := make(map[string]any, len(names))
	for i, name := range names {
		stack[fmt.Sprintf("lora_%d", i+1)] = map[string]any{
			"on":       true,
			"lora":     name,
			"strength": 1.0,
		}
	}
	return stack
}
