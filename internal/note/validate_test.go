package note

import (
	"errors"
	"testing"
)

func TestValidate_DefaultRules(t *testing.T) {
	t.Parallel()

	c := Content{
		Subjective: Subjective{ChiefComplaint: "Chest pain for two days", PresentIllness: "short"},
		Objective:  Objective{PhysicalExam: "Lungs clear, regular rhythm"},
		Assessment: Assessment{PrimaryDiagnosis: "R07.89 - Other chest pain"},
	}
	issues := Validate(c, DefaultRules())

	want := []string{
		"History of Present Illness needs more detail",
		"Follow-up Plan needs more detail",
	}
	if len(issues) != len(want) {
		t.Fatalf("got %d issues %+v, want %d", len(issues), issues, len(want))
	}
	for i, msg := range want {
		if issues[i].Message != msg {
			t.Errorf("issue %d = %q, want %q", i, issues[i].Message, msg)
		}
	}
}

func TestValidate_CustomRules(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Field: FieldID{SectionPlan, "medications"}, MinLength: 3},
		{Field: FieldID{SectionPlan, "unknown"}, MinLength: 1},
	}
	issues := Validate(Content{Plan: Plan{Medications: "ASA"}}, rules)
	if len(issues) != 1 || issues[0].Field.Key != "unknown" {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	if got := Suggest(Content{}); len(got) != 4 {
		t.Errorf("empty note: got %d suggestions, want 4", len(got))
	}

	detailed := Content{
		Subjective: Subjective{ChiefComplaint: "Substernal chest pressure for two days"},
		Objective:  Objective{PhysicalExam: "Regular rate and rhythm, no murmurs, lungs clear"},
		Assessment: Assessment{PrimaryDiagnosis: "R07.89 - Other chest pain"},
		Plan:       Plan{Medications: "Aspirin 81mg daily"},
	}
	if got := Suggest(detailed); len(got) != 0 {
		t.Errorf("detailed note: got suggestions %v", got)
	}
}

func TestTemplate_ParseAndApply(t *testing.T) {
	t.Parallel()

	tpl, err := ParseTemplate("annual", map[string]string{
		"subjective.chiefComplaint": "Annual physical examination",
		"plan.followUp":             "Return in 12 months",
	})
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	d := NewDocument()
	_ = d.SetField(FieldID{SectionPlan, "medications"}, "None")
	n, err := tpl.Apply(d)
	if err != nil || n != 2 {
		t.Fatalf("Apply = %d, %v", n, err)
	}
	got := d.Snapshot()
	if got.Subjective.ChiefComplaint != "Annual physical examination" || got.Plan.Medications != "None" {
		t.Errorf("content after apply = %+v", got)
	}
}

func TestParseTemplate_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := ParseTemplate("bad", map[string]string{"plan.diet": "x", "plan.followUp": "y"})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}
}
