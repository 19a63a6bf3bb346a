package workflow

// Node is one entry of a job template: a backend node class plus its typed
// input fields.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Template is the reusable node-graph description submitted to the backend,
// keyed by node id. Templates obtained from the Store are independent copies;
// mutating one never affects another in-flight job.
type Template map[string]Node

// Clone returns a deep copy of the template. Input values arrive from
// encoding/json, so a recursive copy of maps, slices and scalars covers
// every shape they can take.
func (t Template) Clone() Template {
	out := make(Template, len(t))
	for id, node := range t {
		inputs := make(map[string]any, len(node.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = cloneValue(v)
		}
		out[id] = Node{ClassType: node.ClassType, Inputs: inputs}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		// Scalars out of encoding/json (string, float64, bool, nil,
		// json.Number) are immutable.
		return val
	}
}
