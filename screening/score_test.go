package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	rubric := DefaultRubric()

	tests := []struct {
		name      string
		extracted map[string]any
		want      int
	}{
		{
			name:      "no skills and no experience",
			extracted: DefaultCandidate(),
			want:      0,
		},
		{
			name:      "empty record",
			extracted: map[string]any{},
			want:      0,
		},
		{
			name: "every skill and enough experience",
			extracted: map[string]any{
				"skills":           []any{"Python", "SQL", "LangChain", "LangGraph", "FastAPI", "Docker"},
				"years_experience": float64(5),
			},
			want: 100,
		},
		{
			name: "required only, one year",
			extracted: map[string]any{
				"skills":           []any{" python ", "sql"},
				"years_experience": float64(1),
			},
			want: 65,
		},
		{
			name: "partial nice to have truncates",
			extracted: map[string]any{
				"skills":           []any{"python", "docker"},
				"years_experience": float64(0.5),
			},
			// 30 + 7.5 + 2 = 39.5
			want: 39,
		},
		{
			name: "years as string",
			extracted: map[string]any{
				"skills":           []any{"sql"},
				"years_experience": "3",
			},
			want: 40,
		},
		{
			name: "negative years clamp to zero",
			extracted: map[string]any{
				"years_experience": float64(-100),
			},
			want: 0,
		},
		{
			name: "non-string skills are ignored",
			extracted: map[string]any{
				"skills": []any{float64(1), nil, map[string]any{"x": 1}, "python"},
			},
			want: 30,
		},
		{
			name: "skills not a list",
			extracted: map[string]any{
				"skills": "python, sql",
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(rubric, tt.extracted)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestScoreClampsHeavyWeights(t *testing.T) {
	rubric, err := ParseRubric([]byte(`
required_skills: [go]
weights: {required_skills: 500, nice_to_have: 0, experience: 500}
experience_years: 1
shortlist_threshold: 70
`))
	require.NoError(t, err)
	assert.Equal(t, 100, Score(rubric, map[string]any{"skills": []any{"go"}, "years_experience": float64(9)}))
}

func TestFlags(t *testing.T) {
	rubric := DefaultRubric()

	assert.Equal(t, []string{
		"Missing required skills: python, sql",
		"Missing contact information",
		"Lacks detail on roles/projects",
	}, Flags(rubric, DefaultCandidate()))

	assert.Equal(t, []string{
		"Missing required skills: python",
	}, Flags(rubric, map[string]any{
		"email":    "a@example.com",
		"skills":   []any{"SQL"},
		"projects": []any{"chatbot"},
	}))

	assert.Empty(t, Flags(rubric, map[string]any{
		"email":  "a@example.com",
		"skills": []any{"python", "sql"},
		"roles":  []any{"backend engineer"},
	}))
}

func TestDecisionRules(t *testing.T) {
	rubric := DefaultRubric()
	assert.Equal(t, RecommendNextRound, Recommendation(rubric, 70))
	assert.Equal(t, RecommendReject, Recommendation(rubric, 69))
	assert.Equal(t, DecisionShortlist, DefaultDecision(rubric, 70))
	assert.Equal(t, DecisionRejected, DefaultDecision(rubric, 0))
}

func TestParseRubric(t *testing.T) {
	rubric := DefaultRubric()
	assert.Equal(t, []string{"python", "sql"}, rubric.RequiredSkills)
	assert.Equal(t, 70, rubric.ShortlistThreshold)
	assert.Equal(t, float64(60), rubric.Weights.RequiredSkills)

	_, err := ParseRubric([]byte(`required_skills: []`))
	require.Error(t, err)

	_, err = ParseRubric([]byte(`
required_skills: [go]
experience_years: 0
`))
	require.Error(t, err)

	_, err = ParseRubric([]byte(`required_skills: [`))
	require.Error(t, err)
}
