// Package graph models engine workflow templates: a JSON object mapping node
// ids to nodes with a class type and an inputs map. Only inputs are patched;
// every other node field is carried through unchanged.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"comfybatch/internal/services"
)

// Node is a single graph node.
type Node struct {
	ClassType string
	Inputs    map[string]any
	extra     map[string]json.RawMessage
	// hasClass records a class_type key in the source, even an empty one.
	hasClass bool
}

// Template is a workflow graph keyed by node id. Templates loaded once per
// stage must be cloned before they are bound for a job.
type Template struct {
	nodes map[string]*Node
}

// Load reads and parses a template file.
func Load(path string) (*Template, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "graph", "load", fmt.Sprintf("open template %s", path), err)
	}
	defer file.Close()
	tmpl, err := Parse(file)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "graph", "load", fmt.Sprintf("parse template %s", path), err)
	}
	return tmpl, nil
}

// Parse decodes a template from r. Numbers are kept as json.Number so seeds
// and link indices survive a round trip unchanged.
func Parse(r io.Reader) (*Template, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	tmpl := &Template{nodes: make(map[string]*Node, len(raw))}
	for id, body := range raw {
		node, err := decodeNode(body)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		tmpl.nodes[id] = node
	}
	return tmpl, nil
}

func decodeNode(body json.RawMessage) (*Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	node := &Node{Inputs: map[string]any{}, extra: map[string]json.RawMessage{}}
	for key, value := range fields {
		switch key {
		case "class_type":
			if err := json.Unmarshal(value, &node.ClassType); err != nil {
				return nil, fmt.Errorf("class_type: %w", err)
			}
			node.hasClass = true
		case "inputs":
			dec := json.NewDecoder(bytes.NewReader(value))
			dec.UseNumber()
			if err := dec.Decode(&node.Inputs); err != nil {
				return nil, fmt.Errorf("inputs: %w", err)
			}
			if node.Inputs == nil {
				node.Inputs = map[string]any{}
			}
		default:
			node.extra[key] = append(json.RawMessage(nil), value...)
		}
	}
	return node, nil
}

// MarshalJSON encodes the node with its preserved fields.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.extra)+2)
	for key, value := range n.extra {
		out[key] = value
	}
	if n.hasClass || n.ClassType != "" {
		out["class_type"] = n.ClassType
	}
	inputs := n.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	out["inputs"] = inputs
	return json.Marshal(out)
}

// MarshalJSON encodes the template as the engine's node map.
func (t *Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.nodes)
}

// NodeIDs returns the node ids in sorted order.
func (t *Template) NodeIDs() []string {
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the template contains node id.
func (t *Template) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Node returns the node with the given id.
func (t *Template) Node(id string) (*Node, bool) {
	node, ok := t.nodes[id]
	return node, ok
}

// Input returns the current value of node id's input.
func (t *Template) Input(id, input string) (any, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	value, ok := node.Inputs[input]
	return value, ok
}

// Set writes value into node id's input.
func (t *Template) Set(id, input string, value any) error {
	node, ok := t.nodes[id]
	if !ok {
		return services.Wrap(services.ErrTemplateBinding, "graph", "set", fmt.Sprintf("node %q not present in template", id), nil)
	}
	if node.Inputs == nil {
		node.Inputs = map[string]any{}
	}
	node.Inputs[input] = value
	return nil
}

// ReplaceInputs discards node id's inputs and installs inputs instead.
func (t *Template) ReplaceInputs(id string, inputs map[string]any) error {
	node, ok := t.nodes[id]
	if !ok {
		return services.Wrap(services.ErrTemplateBinding, "graph", "replace inputs", fmt.Sprintf("node %q not present in template", id), nil)
	}
	node.Inputs = make(map[string]any, len(inputs))
	for key, value := range inputs {
		node.Inputs[key] = value
	}
	return nil
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	clone := &Template{nodes: make(map[string]*Node, len(t.nodes))}
	for id, node := range t.nodes {
		copied := &Node{
			ClassType: node.ClassType,
			Inputs:    cloneMap(node.Inputs),
			extra:     make(map[string]json.RawMessage, len(node.extra)),
			hasClass:  node.hasClass,
		}
		for key, value := range node.extra {
			copied.extra[key] = append(json.RawMessage(nil), value...)
		}
		clone.nodes[id] = copied
	}
	return clone
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
