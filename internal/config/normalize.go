package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	c.ActiveWorkflow = strings.TrimSpace(c.ActiveWorkflow)
	c.Engine.URL = strings.TrimRight(strings.TrimSpace(c.Engine.URL), "/")
	if c.Engine.Concurrency <= 0 {
		c.Engine.Concurrency = defaultConcurrency
	}
	if c.Engine.RequestTimeoutSeconds <= 0 {
		c.Engine.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}

	var err error
	if c.Paths.InputBaseDir, err = expandPath(c.Paths.InputBaseDir); err != nil {
		return fmt.Errorf("input_base_dir: %w", err)
	}
	if c.Paths.OutputBaseDir, err = expandPath(c.Paths.OutputBaseDir); err != nil {
		return fmt.Errorf("output_base_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}

	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}

	for i := range c.Workflows {
		if err := c.Workflows[i].normalize(); err != nil {
			return fmt.Errorf("workflow %q: %w", c.Workflows[i].Name, err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (w *Workflow) normalize() error {
	w.Name = strings.TrimSpace(w.Name)
	w.Type = strings.ToLower(strings.TrimSpace(w.Type))
	w.Enumeration = strings.ToLower(strings.TrimSpace(w.Enumeration))
	w.OutputNode = strings.TrimSpace(w.OutputNode)
	w.OutputKind = strings.ToLower(strings.TrimSpace(w.OutputKind))
	w.Model = strings.TrimSpace(w.Model)
	w.T2IWorkflow = strings.TrimSpace(w.T2IWorkflow)
	w.V2VWorkflow = strings.TrimSpace(w.V2VWorkflow)

	switch w.Type {
	case TypeV2V:
		if w.Enumeration == "" {
			w.Enumeration = EnumerationCross
		}
		if w.Extension == "" {
			w.Extension = "mp4"
		}
	case TypeT2I:
		if w.Extension == "" {
			w.Extension = "png"
		}
	}
	w.Extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(w.Extension)), ".")

	inputs := make(map[string]string, len(w.Inputs))
	for key, value := range w.Inputs {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		inputs[key] = strings.TrimSpace(value)
	}
	w.Inputs = inputs

	for i, name := range w.Influencers {
		w.Influencers[i] = strings.TrimSpace(name)
	}
	for i := range w.InfluencerConfigs {
		w.InfluencerConfigs[i].Name = strings.TrimSpace(w.InfluencerConfigs[i].Name)
		w.InfluencerConfigs[i].Keyword = strings.TrimSpace(w.InfluencerConfigs[i].Keyword)
		w.InfluencerConfigs[i].LoRA = strings.TrimSpace(w.InfluencerConfigs[i].LoRA)
	}

	var err error
	if w.WorkflowFile, err = expandPath(w.WorkflowFile); err != nil {
		return fmt.Errorf("workflow_file: %w", err)
	}
	if w.SrcVideoDir, err = expandPath(w.SrcVideoDir); err != nil {
		return fmt.Errorf("src_video_dir: %w", err)
	}
	if w.BackgroundDir, err = expandPath(w.BackgroundDir); err != nil {
		return fmt.Errorf("background_dir: %w", err)
	}
	return nil
}

// ParseSlot splits a binding value of the form "node" or "node:input".
func ParseSlot(value string) (node, input string) {
	value = strings.TrimSpace(value)
	node, input, found := strings.Cut(value, ":")
	if !found {
		return value, ""
	}
	return strings.TrimSpace(node), strings.TrimSpace(input)
}
