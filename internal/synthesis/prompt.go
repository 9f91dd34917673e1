package synthesis

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/medscribe/internal/note"
)

const (
	// DefaultSpecialty is used when a request names no specialty.
	DefaultSpecialty = "general"

	// DefaultQuality is used when a request names no quality level.
	DefaultQuality = "standard"
)

// Specialty adjusts the prompt for a medical domain.
type Specialty struct {
	// Context completes "You are an expert <Context> physician".
	Context string

	// Focus lists what the note should pay attention to.
	Focus string
}

// DefaultSpecialties returns the built-in specialty profiles keyed by name.
func DefaultSpecialties() map[string]Specialty {
	return map[string]Specialty{
		"general": {
			Context: "general medicine",
			Focus:   "a complete history, preventive care and chronic disease management",
		},
		"cardiology": {
			Context: "cardiology",
			Focus:   "chest pain characteristics, cardiovascular risk factors, cardiac examination findings and ECG results",
		},
		"pediatrics": {
			Context: "pediatrics",
			Focus:   "developmental milestones, growth parameters, immunization status and parental concerns",
		},
		"psychiatry": {
			Context: "psychiatry",
			Focus:   "the mental status examination, mood and affect, suicide risk and psychosocial history",
		},
		"emergency": {
			Context: "emergency medicine",
			Focus:   "acuity, red-flag symptoms, time of onset and disposition",
		},
	}
}

// DefaultQualityDirectives returns the built-in quality directives keyed by
// level.
func DefaultQualityDirectives() map[string]string {
	return map[string]string{
		"standard":      "Create a clear, concise SOAP note that covers the essential clinical information.",
		"detailed":      "Create a detailed SOAP note with thorough documentation of the history, examination findings and clinical reasoning.",
		"comprehensive": "Create an exhaustive SOAP note suitable for specialist review, including differential diagnoses and the full rationale for the management plan.",
	}
}

// PromptBuilder renders extraction prompts.
type PromptBuilder struct {
	specialties map[string]Specialty
	quality     map[string]string
}

// NewPromptBuilder returns a builder with the defaults overlaid by the given
// overrides. Either argument may be nil.
func NewPromptBuilder(specialties map[string]Specialty, quality map[string]string) *PromptBuilder {
	b := &PromptBuilder{
		specialties: DefaultSpecialties(),
		quality:     DefaultQualityDirectives(),
	}
	for k, v := range specialties {
		b.specialties[k] = v
	}
	for k, v := range quality {
		b.quality[k] = v
	}
	return b
}

// Specialty returns the profile for name, falling back to general medicine.
func (b *PromptBuilder) Specialty(name string) Specialty {
	if s, ok := b.specialties[name]; ok {
		return s
	}
	return b.specialties[DefaultSpecialty]
}

// Quality returns the directive for level, falling back to the standard one.
func (b *PromptBuilder) Quality(level string) string {
	if q, ok := b.quality[level]; ok {
		return q
	}
	return b.quality[DefaultQuality]
}

// Build renders the prompt for one synthesis run.
func (b *PromptBuilder) Build(specialty, quality, conversation string) string {
	s := b.Specialty(specialty)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert %s physician. Analyze this doctor-patient conversation and create a comprehensive SOAP note.\n\n", s.Context)
	sb.WriteString(b.Quality(quality))
	sb.WriteString("\n\nIMPORTANT: Return ONLY a valid JSON object with the following exact structure (no additional text, explanations, or markdown):\n\n")
	sb.WriteString(schemaDescription())
	fmt.Fprintf(&sb, "\n\nFor %s, pay special attention to %s.\n\n", s.Context, s.Focus)
	sb.WriteString("Conversation transcript:\n")
	sb.WriteString(conversation)
	return sb.String()
}

// schemaDescription renders the closed note schema as an annotated JSON
// skeleton.
var schemaDescription = sync.OnceValue(func() string {
	bySection := map[note.Section][]note.FieldInfo{}
	for _, f := range note.Fields() {
		bySection[f.ID.Section] = append(bySection[f.ID.Section], f)
	}

	var sb strings.Builder
	sb.WriteString("{\n")
	sections := note.Sections()
	for i, sec := range sections {
		fmt.Fprintf(&sb, "    %q: {\n", string(sec))
		fields := bySection[sec]
		for j, f := range fields {
			fmt.Fprintf(&sb, "        %q: %s", f.ID.Key, strconv.Quote(f.Description))
			if j < len(fields)-1 {
				sb.WriteByte(',')
			}
			sb.WriteByte('\n')
		}
		sb.WriteString("    }")
		if i < len(sections)-1 {
			sb.WriteByte(',')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("}")
	return sb.String()
})
