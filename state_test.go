package screenflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStateCanonicalizes(t *testing.T) {
	type candidate struct {
		Name  string   `json:"name"`
		Years float64  `json:"years"`
		Tags  []string `json:"tags"`
	}
	s, err := NewState(map[string]any{
		"score":     72,
		"candidate": candidate{Name: "Ada", Years: 3, Tags: []string{"go"}},
	})
	require.NoError(t, err)
	require.Equal(t, float64(72), s["score"])
	require.Equal(t, map[string]any{
		"name":  "Ada",
		"years": float64(3),
		"tags":  []any{"go"},
	}, s["candidate"])

	_, err = NewState([]string{"not", "an", "object"})
	require.Error(t, err)

	empty, err := NewState(nil)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestMergeCarriesUntouchedFields(t *testing.T) {
	s := State{"score": float64(10), "flags": []any{"a"}, "decision": nil}

	next, err := s.Merge(Update{"score": 90}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(90), next["score"])
	require.Equal(t, []any{"a"}, next["flags"])
	require.Contains(t, next, "decision")
	require.Nil(t, next["decision"])

	// The receiver is never modified.
	require.Equal(t, float64(10), s["score"])
}

func TestMergeAppendReducer(t *testing.T) {
	reducers := map[string]Reducer{"messages": AppendReducer}
	s := State{}

	s, err := s.Merge(Update{"messages": []any{map[string]any{"role": "user", "content": "cv"}}}, reducers)
	require.NoError(t, err)
	s, err = s.Merge(Update{"messages": map[string]any{"role": "assistant", "content": "{}"}}, reducers)
	require.NoError(t, err)

	require.Equal(t, []any{
		map[string]any{"role": "user", "content": "cv"},
		map[string]any{"role": "assistant", "content": "{}"},
	}, s["messages"])
}

func TestCloneIsDeep(t *testing.T) {
	s := State{"extracted": map[string]any{"skills": []any{"go"}}}
	c := s.Clone()
	c["extracted"].(map[string]any)["skills"].([]any)[0] = "rust"
	require.Equal(t, "go", s["extracted"].(map[string]any)["skills"].([]any)[0])
}

func TestDigestIsStable(t *testing.T) {
	a := State{"cv_text": "hello", "application_id": "a1"}
	b := State{"application_id": "a1", "cv_text": "hello"}
	da, err := a.digest()
	require.NoError(t, err)
	db, err := b.digest()
	require.NoError(t, err)
	require.Equal(t, da, db)

	c := State{"application_id": "a1", "cv_text": "changed"}
	dc, err := c.digest()
	require.NoError(t, err)
	require.NotEqual(t, da, dc)
}

func TestStateDecode(t *testing.T) {
	var out struct {
		Score int      `json:"score"`
		Flags []string `json:"flags"`
	}
	require.NoError(t, State{"score": float64(55), "flags": []any{"x"}}.Decode(&out))
	require.Equal(t, 55, out.Score)
	require.Equal(t, []string{"x"}, out.Flags)
	require.Equal(t, []string{"flags", "score"}, State{"score": 1, "flags": nil}.Keys())
}
