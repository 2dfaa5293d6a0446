package capability

const (
	// MaxCopyDepth and MaxCopyNodes bound one deep copy. Anything past either
	// limit is dropped, which also stops self-referencing maps and slices.
	MaxCopyDepth = 32
	MaxCopyNodes = 4096
)

type copier struct {
	left int
}

// deepCopy clones the map/slice shapes produced by the yaml and Lua decoders.
// Scalars are values already.
func deepCopy(v any) any {
	c := copier{left: MaxCopyNodes}
	return c.copy(v, 0)
}

func (c *copier) copy(v any, depth int) any {
	if c.left <= 0 {
		return nil
	}
	c.left--
	switch t := v.(type) {
	case map[string]any:
		if depth >= MaxCopyDepth {
			return nil
		}
		out := make(map[string]any, min(len(t), c.left))
		for k, e := range t {
			if c.left <= 0 {
				break
			}
			out[k] = c.copy(e, depth+1)
		}
		return out
	case map[any]any:
		if depth >= MaxCopyDepth {
			return nil
		}
		out := make(map[any]any, min(len(t), c.left))
		for k, e := range t {
			if c.left <= 0 {
				break
			}
			out[k] = c.copy(e, depth+1)
		}
		return out
	case []any:
		if depth >= MaxCopyDepth {
			return nil
		}
		out := make([]any, 0, min(len(t), c.left))
		for _, e := range t {
			if c.left <= 0 {
				break
			}
			out = append(out, c.copy(e, depth+1))
		}
		return out
	case []string:
		return append([]string(nil), t[:c.take(len(t))]...)
	case []float64:
		return append([]float64(nil), t[:c.take(len(t))]...)
	default:
		return v
	}
}

// take charges n leaf values against the budget and returns how many fit.
func (c *copier) take(n int) int {
	n = min(n, c.left)
	c.left -= n
	return n
}

func copyParams(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out, _ := deepCopy(p).(map[string]any)
	return out
}
