package synthesis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/internal/note"
)

func TestPromptBuilder_Build(t *testing.T) {
	t.Parallel()

	b := NewPromptBuilder(nil, nil)
	conv := "Clinician: Patient reports chest pain for two days\nPatient: It's about a 6 out of 10"
	got := b.Build("cardiology", "detailed", conv)

	for _, want := range []string{
		"You are an expert cardiology physician.",
		DefaultQualityDirectives()["detailed"],
		"IMPORTANT: Return ONLY a valid JSON object",
		`"primaryDiagnosis": "most likely diagnosis with ICD-10 code if applicable"`,
		"For cardiology, pay special attention to chest pain characteristics",
		"Conversation transcript:\n" + conv,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPromptBuilder_Fallbacks(t *testing.T) {
	t.Parallel()

	b := NewPromptBuilder(nil, nil)
	got := b.Build("dermatology", "legendary", "Patient: itchy")
	if !strings.Contains(got, "You are an expert general medicine physician.") {
		t.Error("unknown specialty should fall back to general medicine")
	}
	if !strings.Contains(got, DefaultQualityDirectives()["standard"]) {
		t.Error("unknown quality should fall back to the standard directive")
	}
}

func TestPromptBuilder_Overrides(t *testing.T) {
	t.Parallel()

	b := NewPromptBuilder(
		map[string]Specialty{"dermatology": {Context: "dermatology", Focus: "lesion morphology"}},
		map[string]string{"standard": "Be brief."},
	)
	got := b.Build("dermatology", "", "Patient: rash")
	if !strings.Contains(got, "expert dermatology physician") || !strings.Contains(got, "lesion morphology") {
		t.Error("specialty override not applied")
	}
	if !strings.Contains(got, "Be brief.") {
		t.Error("quality override not applied")
	}
	if b.Specialty("cardiology").Context != "cardiology" {
		t.Error("overrides must keep the defaults")
	}
}

func TestSchemaDescription_IsValidJSON(t *testing.T) {
	t.Parallel()

	var parsed map[string]map[string]string
	if err := json.Unmarshal([]byte(schemaDescription()), &parsed); err != nil {
		t.Fatalf("schema description is not JSON: %v", err)
	}
	for _, f := range note.Fields() {
		if _, ok := parsed[string(f.ID.Section)][f.ID.Key]; !ok {
			t.Errorf("schema missing %s", f.ID)
		}
	}
}
