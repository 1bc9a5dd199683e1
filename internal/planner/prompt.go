package planner

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const promptSeparator = ", "

// ComposePrompt joins the non-empty parts with ", ".
func ComposePrompt(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, promptSeparator)
}

// T2IJobs enumerates influencer × pose × outfit, then influencer × prompt-set
// entry. Poses without outfits yield no jobs. Each job draws its seed from rnd.
func T2IJobs(wf *Workflow, rnd *rand.Rand) []Job {
	var jobs []Job
	for _, persona := range wf.Personas {
		var loras []string
		if persona.LoRA != "" {
			loras = []string{persona.LoRA}
		}
		newJob := func(prompt, variant string) Job {
			return Job{
				Kind:       KindT2I,
				Influencer: persona.Name,
				Variant:    variant,
				Prompt:     prompt,
				Seed:       rnd.Uint32(),
				Model:      wf.Model,
				LoRAs:      loras,
			}
		}
		for _, pose := range wf.Poses {
			for _, outfit := range wf.Outfits {
				jobs = append(jobs, newJob(ComposePrompt(pose.Prompt, outfit, persona.Keyword), pose.Name+" / "+outfit))
			}
		}
		for i, prompt := range wf.Prompts {
			jobs = append(jobs, newJob(ComposePrompt(prompt, persona.Keyword), fmt.Sprintf("prompt %d", i+1)))
		}
	}
	return reindex(jobs)
}
