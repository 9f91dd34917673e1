package note

import (
	"fmt"
	"strings"
)

// DefaultMinLength is the minimum length of a required field.
const DefaultMinLength = 10

// Rule requires a field to hold at least MinLength characters.
type Rule struct {
	Field     FieldID
	MinLength int
}

// Issue is a failed validation rule.
type Issue struct {
	Field   FieldID `json:"field"`
	Label   string  `json:"label"`
	Message string  `json:"message"`
}

// DefaultRules returns the required fields checked when no rules are
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{FieldID{SectionSubjective, "chiefComplaint"}, DefaultMinLength},
		{FieldID{SectionSubjective, "presentIllness"}, DefaultMinLength},
		{FieldID{SectionObjective, "physicalExam"}, DefaultMinLength},
		{FieldID{SectionAssessment, "primaryDiagnosis"}, DefaultMinLength},
		{FieldID{SectionPlan, "followUp"}, DefaultMinLength},
	}
}

// Validate checks c against rules and returns one issue per short field, in
// rule order. Unknown fields are reported as issues too.
func Validate(c Content, rules []Rule) []Issue {
	var issues []Issue
	for _, r := range rules {
		label := Label(r.Field)
		v, err := c.Get(r.Field)
		if err != nil {
			issues = append(issues, Issue{Field: r.Field, Label: label, Message: err.Error()})
			continue
		}
		if len([]rune(strings.TrimSpace(v))) < r.MinLength {
			issues = append(issues, Issue{
				Field:   r.Field,
				Label:   label,
				Message: fmt.Sprintf("%s needs more detail", label),
			})
		}
	}
	return issues
}

// suggestion is a length heuristic on a single field.
type suggestion struct {
	field FieldID
	min   int
	text  string
}

var suggestions = []suggestion{
	{FieldID{SectionSubjective, "chiefComplaint"}, 20, "Consider expanding the chief complaint with onset, duration and severity"},
	{FieldID{SectionObjective, "physicalExam"}, 30, "Physical examination could include more system-specific findings"},
	{FieldID{SectionAssessment, "primaryDiagnosis"}, 10, "Consider adding an ICD-10 code to the primary diagnosis"},
	{FieldID{SectionPlan, "medications"}, 15, "Specify medication dosages, frequencies and durations"},
}

// Suggest returns documentation-quality hints for short fields.
func Suggest(c Content) []string {
	var out []string
	for _, s := range suggestions {
		v, _ := c.Get(s.field)
		if len([]rune(strings.TrimSpace(v))) < s.min {
			out = append(out, s.text)
		}
	}
	return out
}
