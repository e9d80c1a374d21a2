package comfy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Workflow is a ComfyUI prompt graph: node ID to node. Templates are
// ordinary workflow JSON with {{placeholder}} tokens in string inputs;
// numeric parameters are injected by input key name so templates keep
// working when node IDs change.
type Workflow map[string]Node

type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// ParseWorkflow decodes a workflow template from JSON.
func ParseWorkflow(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("cannot parse workflow JSON: %w", err)
	}
	if len(wf) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}
	return wf, nil
}

// Clone returns a deep copy so a shared template is never mutated by
// per-segment injection.
func (w Workflow) Clone() Workflow {
	c := make(Workflow, len(w))
	for id, node := range w {
		inputs := make(map[string]any, len(node.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = v
		}
		c[id] = Node{ClassType: node.ClassType, Inputs: inputs}
	}
	return c
}

// Params are the per-segment values injected into a workflow template.
type Params struct {
	Prompt     string
	StartImage string
	ClipName   string
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Seed       int64
}

// Placeholder tokens recognized in string inputs.
const (
	TokenPrompt     = "{{prompt}}"
	TokenStartImage = "{{start_image}}"
	TokenClipName   = "{{clip_name}}"
)

// Apply injects params into the workflow in place. String inputs get
// placeholder substitution; well-known numeric input keys are set
// directly on any node that declares them.
func (w Workflow) Apply(p Params) {
	for _, node := range w {
		for key, val := range node.Inputs {
			if s, ok := val.(string); ok {
				node.Inputs[key] = substitute(s, p)
				continue
			}
			switch key {
			case "width":
				if p.Width > 0 {
					node.Inputs[key] = p.Width
				}
			case "height":
				if p.Height > 0 {
					node.Inputs[key] = p.Height
				}
			case "fps", "frame_rate":
				if p.FPS > 0 {
					node.Inputs[key] = p.FPS
				}
			case "length", "frames", "num_frames", "video_frames":
				if p.FrameCount > 0 {
					node.Inputs[key] = p.FrameCount
				}
			case "seed", "noise_seed":
				node.Inputs[key] = p.Seed
			}
		}
	}
}

func substitute(s string, p Params) string {
	s = strings.ReplaceAll(s, TokenPrompt, p.Prompt)
	s = strings.ReplaceAll(s, TokenStartImage, p.StartImage)
	s = strings.ReplaceAll(s, TokenClipName, p.ClipName)
	return s
}
