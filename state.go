package screenflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the set of named fields threaded through every stage of a
// pipeline. Values are kept in canonical JSON form (numbers are float64,
// objects are map[string]any) so that state held in memory is identical to
// state reloaded from a checkpoint.
type State map[string]any

// Update holds only the fields a stage changed. The engine merges it into a
// copy of the working state.
type Update map[string]any

// Reducer combines the current value of a field with the value a stage wrote.
type Reducer func(current, update any) any

// ReplaceReducer overwrites the current value. It is the default.
func ReplaceReducer(current, update any) any {
	return update
}

// AppendReducer treats the field as an append-only list. A list update is
// appended element-wise; any other value is appended as a single element.
func AppendReducer(current, update any) any {
	var out []any
	if items, ok := current.([]any); ok {
		out = append(out, items...)
	}
	if items, ok := update.([]any); ok {
		return append(out, items...)
	}
	return append(out, update)
}

// NewState canonicalizes the given value into a State. It accepts a
// map[string]any or any struct that encodes to a JSON object.
func NewState(v any) (State, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state must encode to a JSON object: %w", err)
	}
	if s == nil {
		s = State{}
	}
	return s, nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the sorted field names.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode decodes the state into v, typically a pointer to a struct.
func (s State) Decode(v any) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	return nil
}

// Merge returns a new state with the update applied. Fields absent from the
// update are carried over unchanged.
func (s State) Merge(update Update, reducers map[string]Reducer) (State, error) {
	next := s.Clone()
	if len(update) == 0 {
		return next, nil
	}
	canonical, err := NewState(map[string]any(update))
	if err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	for key, value := range canonical {
		reduce, ok := reducers[key]
		if !ok {
			reduce = ReplaceReducer
		}
		next[key] = reduce(next[key], value)
	}
	return next, nil
}

// digest returns a stable fingerprint of the state contents.
func (s State) digest() (string, error) {
	// encoding/json sorts map keys, so the encoding is stable.
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
