package preflight

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"comfybatch/internal/catalog"
	"comfybatch/internal/comfy"
	"comfybatch/internal/config"
	"comfybatch/internal/graph"
)

// CheckEngine verifies that the render engine answers /api/system_stats.
// It uses a 5-second timeout and a single attempt.
func CheckEngine(ctx context.Context, cfg *config.Config) Result {
	const name = "Render engine"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := comfy.NewFromConfig(cfg, nil).Ping(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.Engine.URL, err)}
	}
	detail := cfg.Engine.URL
	if v := stats.System.ComfyUIVersion; v != "" {
		detail += " (ComfyUI " + v + ")"
	}
	if len(stats.Devices) > 0 {
		detail += ", " + stats.Devices[0].Name
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWorkflow verifies that a workflow's template parses, that every bound
// node exists in it, and that its source folders can be listed.
func CheckWorkflow(wf *config.Workflow) Result {
	name := "Workflow " + wf.Name

	tmpl, err := graph.Load(wf.WorkflowFile)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	var missing []string
	for key, value := range wf.Inputs {
		node, _ := config.ParseSlot(value)
		if !tmpl.Has(node) {
			missing = append(missing, fmt.Sprintf("%s→%s", key, node))
		}
	}
	if wf.OutputNode != "" && !tmpl.Has(wf.OutputNode) {
		missing = append(missing, "output→"+wf.OutputNode)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{Name: name, Detail: "template is missing nodes: " + strings.Join(missing, ", ")}
	}

	detail := fmt.Sprintf("%s (%d nodes)", wf.Type, len(tmpl.NodeIDs()))
	if wf.Type == config.TypeV2V {
		videos, err := catalog.List(wf.SrcVideoDir, catalog.Video)
		if err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
		detail += fmt.Sprintf(", %d videos", len(videos))
		if wf.BackgroundsEnabled() {
			backgrounds, err := catalog.List(wf.BackgroundDir, catalog.Image)
			if err != nil {
				return Result{Name: name, Detail: err.Error()}
			}
			detail += fmt.Sprintf(", %d backgrounds", len(backgrounds))
		}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}
