package command

import "encoding/json"

// Result is the envelope every command produces. Exactly one of Output and
// Err is meaningful, selected by Success.
type Result struct {
	Success bool
	Output  any
	Err     error
}

type resultWire struct {
	Success bool    `json:"success" yaml:"success"`
	Output  any     `json:"output" yaml:"output"`
	Error   *string `json:"error" yaml:"error"`
}

func success(output any) Result {
	return Result{Success: true, Output: output}
}

func failure(err error) Result {
	return Result{Success: false, Err: err}
}

func (r Result) wire() resultWire {
	w := resultWire{Success: r.Success, Output: r.Output}
	if r.Err != nil {
		msg := r.Err.Error()
		w.Error = &msg
		w.Output = nil
	}
	return w
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

func (r Result) MarshalYAML() (any, error) {
	return r.wire(), nil
}

// Find returns the output of the most recent successful result whose output
// has type T.
func Find[T any](results []Result) (T, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].Success {
			continue
		}
		if v, ok := results[i].Output.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Last returns the final envelope, or false for an empty list.
func Last(results []Result) (Result, bool) {
	if len(results) == 0 {
		return Result{}, false
	}
	return results[len(results)-1], true
}

func cloneResults(in []Result) []Result {
	if in == nil {
		return []Result{}
	}
	out := make([]Result, len(in))
	copy(out, in)
	return out
}
