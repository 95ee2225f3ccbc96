package screening

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Score rates an extracted candidate against the rubric. The result is an
// integer in [0, 100] for any input, including missing or malformed fields.
func Score(r *Rubric, extracted map[string]any) int {
	skills := skillSet(extracted)

	var reqHits int
	for _, skill := range r.RequiredSkills {
		if skills[skill] {
			reqHits++
		}
	}
	reqScore := float64(reqHits) / float64(len(r.RequiredSkills)) * r.Weights.RequiredSkills

	var niceScore float64
	if len(r.NiceToHave) > 0 {
		var niceHits int
		for _, skill := range r.NiceToHave {
			if skills[skill] {
				niceHits++
			}
		}
		niceScore = float64(niceHits) / float64(len(r.NiceToHave)) * r.Weights.NiceToHave
	}

	var expScore float64
	years := yearsExperience(extracted)
	if years >= r.ExperienceYears {
		expScore = r.Weights.Experience
	} else {
		expScore = math.Trunc(years / r.ExperienceYears * r.Weights.Experience)
	}

	total := reqScore + niceScore + expScore
	if math.IsNaN(total) {
		return 0
	}
	return clamp(int(math.Trunc(math.Max(math.Min(total, 1000), -1000))), 0, 100)
}

// Flags returns the review flags for an extracted candidate, in a fixed order.
func Flags(r *Rubric, extracted map[string]any) []string {
	skills := skillSet(extracted)
	flags := []string{}

	var missing []string
	for _, skill := range r.RequiredSkills {
		if !skills[skill] {
			missing = append(missing, skill)
		}
	}
	if len(missing) > 0 {
		flags = append(flags, fmt.Sprintf("Missing required skills: %s", strings.Join(missing, ", ")))
	}
	if email, _ := extracted["email"].(string); strings.TrimSpace(email) == "" {
		flags = append(flags, "Missing contact information")
	}
	if len(stringList(extracted["roles"])) == 0 && len(stringList(extracted["projects"])) == 0 {
		flags = append(flags, "Lacks detail on roles/projects")
	}
	return flags
}

// Recommendation returns the reviewer-facing recommendation for a score.
func Recommendation(r *Rubric, score int) string {
	if score >= r.ShortlistThreshold {
		return RecommendNextRound
	}
	return RecommendReject
}

// DefaultDecision returns the decision applied when no reviewer decision
// is present.
func DefaultDecision(r *Rubric, score int) string {
	if score >= r.ShortlistThreshold {
		return DecisionShortlist
	}
	return DecisionRejected
}

func skillSet(extracted map[string]any) map[string]bool {
	set := map[string]bool{}
	for _, s := range stringList(extracted["skills"]) {
		set[normalizeSkill(s)] = true
	}
	return set
}

// stringList returns the string elements of a list value, ignoring
// anything else.
func stringList(v any) []string {
	var out []string
	switch items := v.(type) {
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range items {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// yearsExperience reads years_experience leniently. Missing, null or
// unparseable values count as zero.
func yearsExperience(extracted map[string]any) float64 {
	var years float64
	switch v := extracted["years_experience"].(type) {
	case float64:
		years = v
	case int:
		years = float64(v)
	case int64:
		years = float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			years = f
		}
	}
	if math.IsNaN(years) || math.IsInf(years, 0) {
		return 0
	}
	return years
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
