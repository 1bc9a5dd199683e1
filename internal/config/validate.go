package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"comfybatch/internal/services"
)

// Validate ensures the configuration is usable. Failures wrap
// services.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateWorkflows()
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.URL) == "" {
		return errors.New("engine.url must be set")
	}
	parsed, err := url.Parse(c.Engine.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("engine.url %q must be an http(s) URL", c.Engine.URL)
	}
	if c.Engine.PollIntervalMillis <= 0 {
		return errors.New("engine.poll_interval_ms must be positive")
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return errors.New("engine.timeout_seconds must be positive")
	}
	if c.Engine.Concurrency < 1 {
		return errors.New("engine.concurrency must be at least 1")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputBaseDir) == "" {
		return errors.New("paths.output_base_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorkflows() error {
	if len(c.Workflows) == 0 {
		return errors.New("at least one [[workflows]] entry is required")
	}
	seen := make(map[string]struct{}, len(c.Workflows))
	for i := range c.Workflows {
		wf := &c.Workflows[i]
		if wf.Name == "" {
			return fmt.Errorf("workflows[%d]: name must be set", i)
		}
		if _, dup := seen[wf.Name]; dup {
			return fmt.Errorf("workflows: duplicate name %q", wf.Name)
		}
		seen[wf.Name] = struct{}{}
	}
	for i := range c.Workflows {
		wf := &c.Workflows[i]
		var err error
		switch wf.Type {
		case TypeV2V:
			err = validateV2V(wf)
		case TypeT2I:
			err = validateT2I(wf)
		case TypeComposite:
			err = c.validateComposite(wf)
		default:
			err = fmt.Errorf("type: unsupported value %q", wf.Type)
		}
		if err != nil {
			return fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
	}
	if c.ActiveWorkflow == "" {
		return errors.New("active_workflow must be set")
	}
	if _, ok := c.Workflow(c.ActiveWorkflow); !ok {
		return fmt.Errorf("active_workflow %q does not match any workflow", c.ActiveWorkflow)
	}
	return nil
}

func validateCommon(wf *Workflow) error {
	if wf.WorkflowFile == "" {
		return errors.New("workflow_file must be set")
	}
	if len(wf.Inputs) == 0 {
		return errors.New("inputs must declare at least one binding")
	}
	for key, value := range wf.Inputs {
		node, _ := ParseSlot(value)
		if node == "" {
			return fmt.Errorf("inputs.%s: node id must be set", key)
		}
	}
	if wf.OutputNode == "" {
		return errors.New("output_node must be set")
	}
	switch wf.OutputKind {
	case "", "gifs", "videos", "images":
	default:
		return fmt.Errorf("output_kind: unsupported value %q", wf.OutputKind)
	}
	return nil
}

func validateV2V(wf *Workflow) error {
	if err := validateCommon(wf); err != nil {
		return err
	}
	if wf.SrcVideoDir == "" {
		return errors.New("src_video_dir must be set")
	}
	if _, ok := wf.Inputs["video"]; !ok {
		return errors.New("inputs.video must be set")
	}
	if len(wf.Influencers) == 0 {
		return errors.New("influencers must list at least one influencer")
	}
	for i, name := range wf.Influencers {
		if name == "" {
			return fmt.Errorf("influencers[%d]: name must be set", i)
		}
	}
	if wf.BackgroundsEnabled() && wf.BackgroundDir == "" {
		return errors.New("background_dir must be set when uses_background is true")
	}
	switch wf.Enumeration {
	case EnumerationCross, EnumerationInterleaved:
	default:
		return fmt.Errorf("enumeration: unsupported value %q", wf.Enumeration)
	}
	return nil
}

func validateT2I(wf *Workflow) error {
	if err := validateCommon(wf); err != nil {
		return err
	}
	for _, key := range []string{"prompt", "seed"} {
		if _, ok := wf.Inputs[key]; !ok {
			return fmt.Errorf("inputs.%s must be set", key)
		}
	}
	if len(wf.InfluencerConfigs) == 0 {
		return errors.New("influencer_configs must list at least one influencer")
	}
	names := make(map[string]struct{}, len(wf.InfluencerConfigs))
	for i, inf := range wf.InfluencerConfigs {
		if inf.Name == "" {
			return fmt.Errorf("influencer_configs[%d]: name must be set", i)
		}
		if _, dup := names[inf.Name]; dup {
			return fmt.Errorf("influencer_configs: duplicate name %q", inf.Name)
		}
		names[inf.Name] = struct{}{}
	}
	if len(wf.PoseStyles) == 0 && len(wf.Prompts) == 0 {
		return errors.New("pose_styles or prompt_set must be set")
	}
	if len(wf.PoseStyles) > 0 && len(wf.Outfits) == 0 {
		return errors.New("outfits must list at least one outfit when pose_styles is set")
	}
	for i, pose := range wf.PoseStyles {
		if strings.TrimSpace(pose.Prompt) == "" {
			return fmt.Errorf("pose_styles[%d]: prompt must be set", i)
		}
	}
	return nil
}

func (c *Config) validateComposite(wf *Workflow) error {
	if wf.T2IWorkflow == "" || wf.V2VWorkflow == "" {
		return errors.New("t2i_workflow and v2v_workflow must be set")
	}
	t2i, ok := c.Workflow(wf.T2IWorkflow)
	if !ok {
		return fmt.Errorf("t2i_workflow %q does not match any workflow", wf.T2IWorkflow)
	}
	if t2i.Type != TypeT2I {
		return fmt.Errorf("t2i_workflow %q has type %q, want %q", wf.T2IWorkflow, t2i.Type, TypeT2I)
	}
	v2v, ok := c.Workflow(wf.V2VWorkflow)
	if !ok {
		return fmt.Errorf("v2v_workflow %q does not match any workflow", wf.V2VWorkflow)
	}
	if v2v.Type != TypeV2V {
		return fmt.Errorf("v2v_workflow %q has type %q, want %q", wf.V2VWorkflow, v2v.Type, TypeV2V)
	}
	if _, ok := v2v.Inputs["person"]; !ok {
		return fmt.Errorf("v2v_workflow %q: inputs.person must be set", wf.V2VWorkflow)
	}
	return nil
}
