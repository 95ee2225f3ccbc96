package screening

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed rubric.yaml
var defaultRubricYAML []byte

// Weights are the points available for each scoring component.
type Weights struct {
	RequiredSkills float64 `yaml:"required_skills" json:"required_skills" validate:"gte=0"`
	NiceToHave     float64 `yaml:"nice_to_have" json:"nice_to_have" validate:"gte=0"`
	Experience     float64 `yaml:"experience" json:"experience" validate:"gte=0"`
}

// Rubric defines how an extracted candidate is scored.
type Rubric struct {
	RequiredSkills     []string `yaml:"required_skills" json:"required_skills" validate:"required,min=1,dive,required"`
	NiceToHave         []string `yaml:"nice_to_have" json:"nice_to_have" validate:"dive,required"`
	Weights            Weights  `yaml:"weights" json:"weights"`
	ExperienceYears    float64  `yaml:"experience_years" json:"experience_years" validate:"gt=0"`
	ShortlistThreshold int      `yaml:"shortlist_threshold" json:"shortlist_threshold" validate:"gte=0,lte=100"`
}

var rubricValidator = validator.New(validator.WithRequiredStructEnabled())

// DefaultRubric returns the built-in rubric.
func DefaultRubric() *Rubric {
	r, err := ParseRubric(defaultRubricYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded rubric: %v", err))
	}
	return r
}

// LoadRubric reads a rubric from a YAML file.
func LoadRubric(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric file: %w", err)
	}
	return ParseRubric(data)
}

// ParseRubric parses and validates a YAML rubric. Skill names are trimmed
// and lower-cased.
func ParseRubric(data []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rubric: %w", err)
	}
	r.RequiredSkills = normalizeSkills(r.RequiredSkills)
	r.NiceToHave = normalizeSkills(r.NiceToHave)
	if err := rubricValidator.Struct(&r); err != nil {
		return nil, fmt.Errorf("invalid rubric: %w", err)
	}
	return &r, nil
}

func normalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		out = append(out, normalizeSkill(s))
	}
	return out
}

func normalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
