package synthesis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/medscribe/internal/note"
)

// MockGenerator is the deterministic last entry of the provider chain. It
// ignores the conversation and returns a canned, specialty-aware note, so a
// run that reaches it always produces a usable result.
type MockGenerator struct{}

var _ Extractor = MockGenerator{}

// Extract returns the canned note for req.Specialty as JSON.
func (MockGenerator) Extract(_ context.Context, req Request) (string, error) {
	b, err := json.Marshal(MockNote(req.Specialty))
	if err != nil {
		return "", fmt.Errorf("synthesis: mock: %w", err)
	}
	return string(b), nil
}

// MockNote returns the canned note for specialty. Pediatrics and psychiatry
// have their own patient and diagnosis; everything else gets the general
// chest pain encounter.
func MockNote(specialty string) note.Content {
	c := note.Content{
		PatientInfo: note.PatientInfo{
			Name: "John Smith",
			DOB:  "03/15/1978",
			MRN:  "MRN456789",
		},
		Subjective: note.Subjective{
			ChiefComplaint:     "Patient presents with chest discomfort and shortness of breath for the past 2 days.",
			PresentIllness:     "45-year-old male reports onset of substernal chest pressure 2 days ago, described as 7/10 intensity, non-radiating, associated with mild shortness of breath on exertion. Denies nausea, diaphoresis, or palpitations. Symptoms worsen with activity, improve with rest. No prior episodes.",
			ReviewSystems:      "Constitutional: Denies fever, chills, weight loss. Cardiovascular: Chest pain as per HPI, denies palpitations, orthopnea, PND, lower extremity edema. Respiratory: Mild SOB with exertion, denies cough, wheezing. GI: Denies nausea, vomiting, abdominal pain. All other systems negative.",
			PastMedicalHistory: "Hypertension, hyperlipidemia, father with MI at age 55. No prior cardiac events. No surgeries. Medications: Lisinopril 10mg daily, atorvastatin 40mg daily. NKDA.",
		},
		Objective: note.Objective{
			VitalSigns:        "BP 145/92, HR 78, RR 16, O2 Sat 98% on room air, Temp 98.4°F, Weight 185 lbs, BMI 28.1",
			PhysicalExam:      "General: Well-appearing male in no acute distress. HEENT: Normocephalic, atraumatic, PERRLA, EOMI. Neck: Supple, no JVD, no carotid bruits. Cardiovascular: Regular rate and rhythm, no murmurs, rubs, or gallops, no peripheral edema. Respiratory: Clear to auscultation bilaterally, no wheezes or rales. Abdomen: Soft, non-tender, non-distended. Extremities: No cyanosis, clubbing, or edema, distal pulses intact.",
			DiagnosticResults: "ECG: Normal sinus rhythm at 78 bpm, no acute ST-T wave changes, no Q waves. Chest X-ray: Clear lung fields, normal cardiac silhouette, no acute findings.",
		},
		Assessment: note.Assessment{
			PrimaryDiagnosis:   "R07.89 - Other chest pain",
			DifferentialDx:     "1. Atypical chest pain vs. stable angina 2. Gastroesophageal reflux disease 3. Musculoskeletal chest pain 4. Anxiety-related chest pain",
			ClinicalImpression: "45-year-old male with cardiovascular risk factors presenting with atypical chest pain. Low-to-intermediate risk for acute coronary syndrome based on clinical presentation and normal ECG. Consider outpatient stress testing for further risk stratification.",
		},
		Plan: note.Plan{
			Medications:      "1. Continue Lisinopril 10mg daily for hypertension 2. Continue atorvastatin 40mg daily for hyperlipidemia 3. Consider trial of omeprazole 20mg daily for possible GERD 4. Aspirin 81mg daily for cardiovascular protection",
			Procedures:       "1. Outpatient stress echocardiogram within 2 weeks 2. Basic metabolic panel and lipid panel 3. Consider CT coronary angiogram if stress test abnormal",
			FollowUp:         "1. Return to clinic in 1-2 weeks or sooner if symptoms worsen 2. Cardiology referral if stress test positive or symptoms persist 3. Emergency department if chest pain becomes severe or associated with SOB, diaphoresis, or radiation",
			PatientEducation: "1. Discussed warning signs of heart attack: severe chest pain, SOB, nausea, diaphoresis, radiation to arm/jaw 2. Lifestyle modifications: heart-healthy diet, regular exercise, smoking cessation if applicable 3. Medication compliance and follow-up importance 4. When to seek immediate medical attention",
		},
	}

	switch specialty {
	case "pediatrics":
		c.PatientInfo = note.PatientInfo{Name: "Emma Johnson", DOB: "08/22/2018", MRN: "PED123456"}
		c.Subjective.ChiefComplaint = "Well child visit for 5-year-old"
		c.Assessment.PrimaryDiagnosis = "Z00.129 - Encounter for routine child health examination without abnormal findings"
	case "psychiatry":
		c.Subjective.ChiefComplaint = "Depression and anxiety symptoms"
		c.Assessment.PrimaryDiagnosis = "F32.1 - Major depressive disorder, single episode, moderate"
	}
	return c
}
