// Package note holds the clinical note: a closed, four-section SOAP record
// plus patient identifiers.
//
// [Content] is the plain value; [Document] is the process-wide mutable holder
// that synthesis populates and manual edits write into. Concurrent writers
// are serialised; the last write to a field wins.
package note

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// completionDenominator is the fixed number of clinical fields the
// completion ratio is measured against.
const completionDenominator = 12

// PatientInfo identifies the patient.
type PatientInfo struct {
	Name string `json:"name"`
	DOB  string `json:"dob"`
	MRN  string `json:"mrn"`
}

// Subjective is the history reported by the patient.
type Subjective struct {
	ChiefComplaint     string `json:"chiefComplaint"`
	PresentIllness     string `json:"presentIllness"`
	ReviewSystems      string `json:"reviewSystems"`
	PastMedicalHistory string `json:"pastMedicalHistory"`
}

// Objective holds measured findings.
type Objective struct {
	VitalSigns        string `json:"vitalSigns"`
	PhysicalExam      string `json:"physicalExam"`
	DiagnosticResults string `json:"diagnosticResults"`
}

// Assessment is the clinician's diagnostic reasoning.
type Assessment struct {
	PrimaryDiagnosis   string `json:"primaryDiagnosis"`
	DifferentialDx     string `json:"differentialDx"`
	ClinicalImpression string `json:"clinicalImpression"`
}

// Plan is the treatment plan.
type Plan struct {
	Medications      string `json:"medications"`
	Procedures       string `json:"procedures"`
	FollowUp         string `json:"followUp"`
	PatientEducation string `json:"patientEducation"`
}

// Content is the full note value.
type Content struct {
	PatientInfo PatientInfo `json:"patientInfo"`
	Subjective  Subjective  `json:"subjective"`
	Objective   Objective   `json:"objective"`
	Assessment  Assessment  `json:"assessment"`
	Plan        Plan        `json:"plan"`
}

// Get returns the value of field id.
func (c *Content) Get(id FieldID) (string, error) {
	f := lookup(id)
	if f == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	return *f.ref(c), nil
}

// Set assigns value to field id.
func (c *Content) Set(id FieldID, value string) error {
	f := lookup(id)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	*f.ref(c) = value
	return nil
}

// Merge copies every non-blank field of src into c and returns the number of
// fields written. Blank fields of src leave c untouched.
func (c *Content) Merge(src Content) int {
	n := 0
	for _, f := range schema {
		v := *f.ref(&src)
		if strings.TrimSpace(v) == "" {
			continue
		}
		*f.ref(c) = v
		n++
	}
	return n
}

// Completion returns the percentage of non-empty clinical fields measured
// against twelve, rounded and capped at 100.
func (c Content) Completion() int {
	filled := 0
	for _, f := range schema {
		if f.Clinical && strings.TrimSpace(*f.ref(&c)) != "" {
			filled++
		}
	}
	pct := int(math.Round(float64(filled) / completionDenominator * 100))
	return min(pct, 100)
}

// IsEmpty reports whether every field is blank.
func (c Content) IsEmpty() bool {
	for _, f := range schema {
		if strings.TrimSpace(*f.ref(&c)) != "" {
			return false
		}
	}
	return true
}

// Document is the mutable, concurrency-safe holder of the current note.
type Document struct {
	mu       sync.RWMutex
	content  Content
	modified time.Time
	now      func() time.Time
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{now: time.Now}
}

// Snapshot returns a copy of the current content.
func (d *Document) Snapshot() Content {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Populate applies a parsed extraction result: every non-blank field of
// parsed overwrites the document, absent fields are preserved. Returns the
// number of fields written.
func (d *Document) Populate(parsed Content) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.content.Merge(parsed)
	if n > 0 {
		d.touch()
	}
	return n
}

// SetField assigns a single field.
func (d *Document) SetField(id FieldID, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.content.Set(id, value); err != nil {
		return err
	}
	d.touch()
	return nil
}

// Replace swaps the whole content, typically from a restored snapshot.
func (d *Document) Replace(c Content) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = c
	d.touch()
}

// Reset clears every field.
func (d *Document) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = Content{}
	d.touch()
}

// Completion returns the completion percentage of the current content.
func (d *Document) Completion() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content.Completion()
}

// LastModified returns the time of the latest mutation, zero if none.
func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modified
}

func (d *Document) touch() {
	if d.now == nil {
		d.modified = time.Now()
		return
	}
	d.modified = d.now()
}
