package planner

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/stepwise/internal/capability"
)

const systemPrompt = "You plan multi-step work as a dependency graph of capability invocations. Reply with JSON only."

// planningPrompt is the user prompt template: capabilities, then the task.
const planningPrompt = `Break this task into steps. Each step invokes exactly one capability from the list below.

Available capabilities:
%s

Task:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "reasoning": "Why these steps, in this order",
  "steps": [
    {
      "step_number": 1,
      "capability_id": "one of the ids above",
      "depends_on": [],
      "sensitivity": "public|internal|confidential|restricted|regulated",
      "input": {"key": "value"}
    }
  ],
  "estimated_duration_ms": 60000
}

Guidelines:
- Number steps from 1
- A step may only depend on steps with a smaller number
- Only add a dependency when the later step needs the earlier step's result
- Steps without dependencies between them run in parallel
- Mark the most sensitive data class each step touches`

// BuildPrompt renders the planning prompt for a task.
func BuildPrompt(description string, capabilities []capability.Descriptor) string {
	var b strings.Builder
	for _, d := range capabilities {
		fmt.Fprintf(&b, "- %s", d.ID)
		if d.Path != "" && d.Path != d.ID {
			fmt.Fprintf(&b, " (%s)", d.Path)
		}
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		if d.Sensitivity != "" {
			fmt.Fprintf(&b, " [data: %s]", d.Sensitivity)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("(none)\n")
	}
	return fmt.Sprintf(planningPrompt, strings.TrimRight(b.String(), "\n"), description)
}
