package note

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField is returned for a field identifier outside the schema.
var ErrUnknownField = errors.New("note: unknown field")

// Section names a top-level part of the note.
type Section string

const (
	SectionPatientInfo Section = "patientInfo"
	SectionSubjective  Section = "subjective"
	SectionObjective   Section = "objective"
	SectionAssessment  Section = "assessment"
	SectionPlan        Section = "plan"
)

// FieldID identifies one field of the closed schema, e.g.
// {SectionSubjective, "chiefComplaint"}.
type FieldID struct {
	Section Section
	Key     string
}

// String returns the dotted form "section.key".
func (id FieldID) String() string { return string(id.Section) + "." + id.Key }

// MarshalText encodes the dotted form.
func (id FieldID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses the dotted form with [ParseFieldID].
func (id *FieldID) UnmarshalText(b []byte) error {
	v, err := ParseFieldID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseFieldID parses the dotted form and checks it against the schema.
func ParseFieldID(s string) (FieldID, error) {
	section, key, ok := strings.Cut(strings.TrimSpace(s), ".")
	id := FieldID{Section: Section(section), Key: key}
	if !ok || lookup(id) == nil {
		return FieldID{}, fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return id, nil
}

// FieldInfo describes a schema field.
type FieldInfo struct {
	ID          FieldID
	Label       string
	Description string
	// Clinical is false for patient identifiers.
	Clinical bool
}

type fieldSpec struct {
	FieldInfo
	ref func(*Content) *string
}

// schema lists every field in display order. The order is also the order of
// the extraction prompt's schema description.
var schema = []fieldSpec{
	{FieldInfo{FieldID{SectionPatientInfo, "name"}, "Patient Name", "extracted or 'Patient Name'", false},
		func(c *Content) *string { return &c.PatientInfo.Name }},
	{FieldInfo{FieldID{SectionPatientInfo, "dob"}, "Date of Birth", "extracted or 'MM/DD/YYYY'", false},
		func(c *Content) *string { return &c.PatientInfo.DOB }},
	{FieldInfo{FieldID{SectionPatientInfo, "mrn"}, "MRN", "extracted or 'MRN'", false},
		func(c *Content) *string { return &c.PatientInfo.MRN }},

	{FieldInfo{FieldID{SectionSubjective, "chiefComplaint"}, "Chief Complaint", "patient's main concern in their words", true},
		func(c *Content) *string { return &c.Subjective.ChiefComplaint }},
	{FieldInfo{FieldID{SectionSubjective, "presentIllness"}, "History of Present Illness", "detailed history of current symptoms with timeline, quality, severity, associated symptoms", true},
		func(c *Content) *string { return &c.Subjective.PresentIllness }},
	{FieldInfo{FieldID{SectionSubjective, "reviewSystems"}, "Review of Systems", "systematic review organized by body systems", true},
		func(c *Content) *string { return &c.Subjective.ReviewSystems }},
	{FieldInfo{FieldID{SectionSubjective, "pastMedicalHistory"}, "Past Medical History", "relevant past medical conditions, surgeries, hospitalizations", true},
		func(c *Content) *string { return &c.Subjective.PastMedicalHistory }},

	{FieldInfo{FieldID{SectionObjective, "vitalSigns"}, "Vital Signs", "blood pressure, heart rate, temperature, respiratory rate, oxygen saturation if mentioned", true},
		func(c *Content) *string { return &c.Objective.VitalSigns }},
	{FieldInfo{FieldID{SectionObjective, "physicalExam"}, "Physical Examination", "detailed physical examination findings organized by body systems", true},
		func(c *Content) *string { return &c.Objective.PhysicalExam }},
	{FieldInfo{FieldID{SectionObjective, "diagnosticResults"}, "Diagnostic Results", "laboratory results, imaging studies, other diagnostic tests mentioned", true},
		func(c *Content) *string { return &c.Objective.DiagnosticResults }},

	{FieldInfo{FieldID{SectionAssessment, "primaryDiagnosis"}, "Primary Diagnosis", "most likely diagnosis with ICD-10 code if applicable", true},
		func(c *Content) *string { return &c.Assessment.PrimaryDiagnosis }},
	{FieldInfo{FieldID{SectionAssessment, "differentialDx"}, "Differential Diagnosis", "other possible diagnoses to consider", true},
		func(c *Content) *string { return &c.Assessment.DifferentialDx }},
	{FieldInfo{FieldID{SectionAssessment, "clinicalImpression"}, "Clinical Impression", "clinical reasoning and overall assessment", true},
		func(c *Content) *string { return &c.Assessment.ClinicalImpression }},

	{FieldInfo{FieldID{SectionPlan, "medications"}, "Medications", "prescribed medications with dosages, frequencies, and durations", true},
		func(c *Content) *string { return &c.Plan.Medications }},
	{FieldInfo{FieldID{SectionPlan, "procedures"}, "Procedures", "procedures ordered or performed", true},
		func(c *Content) *string { return &c.Plan.Procedures }},
	{FieldInfo{FieldID{SectionPlan, "followUp"}, "Follow-up Plan", "follow-up appointments and monitoring plans", true},
		func(c *Content) *string { return &c.Plan.FollowUp }},
	{FieldInfo{FieldID{SectionPlan, "patientEducation"}, "Patient Education", "education provided and lifestyle recommendations", true},
		func(c *Content) *string { return &c.Plan.PatientEducation }},
}

// Fields returns the schema in display order.
func Fields() []FieldInfo {
	out := make([]FieldInfo, len(schema))
	for i, f := range schema {
		out[i] = f.FieldInfo
	}
	return out
}

// Sections returns the section order used by the schema.
func Sections() []Section {
	return []Section{SectionPatientInfo, SectionSubjective, SectionObjective, SectionAssessment, SectionPlan}
}

// Label returns the display label of id, or its dotted form if unknown.
func Label(id FieldID) string {
	if f := lookup(id); f != nil {
		return f.Label
	}
	return id.String()
}

func lookup(id FieldID) *fieldSpec {
	for i := range schema {
		if schema[i].ID == id {
			return &schema[i]
		}
	}
	return nil
}
