// Package tagging holds the procedure, tooth, stage and angle selection that
// describes what a clinical photo documents.
package tagging

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chairside/chairside/internal/errors"
)

// Universal numbering, permanent dentition.
const (
	MinTooth = 1
	MaxTooth = 32
)

// SummarySeparator joins the summary fields.
const SummarySeparator = " • "

// NoTagsSummary is the summary of an empty selection.
const NoTagsSummary = "No tags"

var (
	// ErrNoProcedure is returned when a tooth is selected without a procedure.
	ErrNoProcedure = errors.NewStd("tooth selection requires a procedure")

	// ErrInvalidTooth is returned for tooth numbers outside 1-32.
	ErrInvalidTooth = errors.NewStd("tooth number out of range")
)

func noProcedure() error {
	return errors.New(ErrNoProcedure).
		Component("tagging").
		Category(errors.CategoryValidation).
		Build()
}

var stageAbbreviations = map[string]string{
	"Pre-op":      "Pre",
	"Isolation":   "Iso",
	"Preparation": "Prep",
	"Restoration": "Resto",
	"Post-op":     "Post",
}

var angleAbbreviations = map[string]string{
	"Occlusal": "Occ",
	"Buccal":   "Bucc",
	"Lingual":  "Ling",
	"Mesial":   "Mes",
	"Distal":   "Dist",
	"Facial":   "Fac",
	"Palatal":  "Pal",
}

// Tooth is a selected tooth together with the date it was worked on.
type Tooth struct {
	Number int       `json:"number"`
	Date   time.Time `json:"date"`
}

// Selection is an immutable set of tags. Empty strings and a nil Tooth mean
// the field is not set.
type Selection struct {
	Procedure string `json:"procedure,omitempty"`
	Tooth     *Tooth `json:"tooth,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Angle     string `json:"angle,omitempty"`
}

// HasAnyTags reports whether a procedure is selected.
func (s Selection) HasAnyTags() bool {
	return s.Procedure != ""
}

// HasAllTags reports whether all four fields are set.
func (s Selection) HasAllTags() bool {
	return s.Procedure != "" && s.Tooth != nil && s.Stage != "" && s.Angle != ""
}

// ToothNumber returns the selected tooth number, or 0.
func (s Selection) ToothNumber() int {
	if s.Tooth == nil {
		return 0
	}
	return s.Tooth.Number
}

// Summary renders the selection as "Class 1 • #14 • Prep • Occ".
func (s Selection) Summary() string {
	parts := make([]string, 0, 4)
	if s.Procedure != "" {
		parts = append(parts, s.Procedure)
	}
	if s.Tooth != nil {
		parts = append(parts, "#"+strconv.Itoa(s.Tooth.Number))
	}
	if s.Stage != "" {
		parts = append(parts, AbbreviateStage(s.Stage))
	}
	if s.Angle != "" {
		parts = append(parts, AbbreviateAngle(s.Angle))
	}
	if len(parts) == 0 {
		return NoTagsSummary
	}
	return strings.Join(parts, SummarySeparator)
}

// Clone returns a deep copy.
func (s Selection) Clone() Selection {
	if s.Tooth != nil {
		t := *s.Tooth
		s.Tooth = &t
	}
	return s
}

func (s Selection) String() string {
	return s.Summary()
}

// AbbreviateStage returns the short form of a stage, or the stage itself.
func AbbreviateStage(stage string) string {
	if abbr, ok := stageAbbreviations[stage]; ok {
		return abbr
	}
	return stage
}

// AbbreviateAngle returns the short form of an angle, or the angle itself.
func AbbreviateAngle(angle string) string {
	if abbr, ok := angleAbbreviations[angle]; ok {
		return abbr
	}
	return angle
}

// ValidateTooth checks a Universal tooth number.
func ValidateTooth(n int) error {
	if n < MinTooth || n > MaxTooth {
		return errors.New(ErrInvalidTooth).
			Component("tagging").
			Category(errors.CategoryValidation).
			Context("tooth", n).
			Build()
	}
	return nil
}

// Model is the mutable selection edited during Setup. It is not safe for
// concurrent use; the owning flow serializes access.
type Model struct {
	sel Selection
	now func() time.Time
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{now: time.Now}
}

// NewModelFrom seeds a model with an existing selection. Text fields are
// trimmed as the Select methods do.
func NewModelFrom(sel Selection) (*Model, error) {
	m := NewModel()
	sel.Procedure = strings.TrimSpace(sel.Procedure)
	sel.Stage = strings.TrimSpace(sel.Stage)
	sel.Angle = strings.TrimSpace(sel.Angle)
	if sel.Tooth != nil {
		if sel.Procedure == "" {
			return nil, noProcedure()
		}
		if err := ValidateTooth(sel.Tooth.Number); err != nil {
			return nil, err
		}
	}
	m.sel = sel.Clone()
	return m, nil
}

// Selection returns a copy of the current selection.
func (m *Model) Selection() Selection {
	return m.sel.Clone()
}

// SelectProcedure sets the procedure. The tooth is always cleared because
// tooth history is scoped per procedure.
func (m *Model) SelectProcedure(procedure string) {
	m.sel.Procedure = strings.TrimSpace(procedure)
	m.sel.Tooth = nil
}

// ClearProcedure unsets the procedure and with it the tooth.
func (m *Model) ClearProcedure() {
	m.sel.Procedure = ""
	m.sel.Tooth = nil
}

// SelectTooth sets the tooth. A zero date means today.
func (m *Model) SelectTooth(number int, date time.Time) error {
	if m.sel.Procedure == "" {
		return noProcedure()
	}
	if err := ValidateTooth(number); err != nil {
		return err
	}
	if date.IsZero() {
		date = m.now()
	}
	m.sel.Tooth = &Tooth{Number: number, Date: date}
	return nil
}

// ClearTooth unsets the tooth.
func (m *Model) ClearTooth() {
	m.sel.Tooth = nil
}

// SelectStage sets the stage.
func (m *Model) SelectStage(stage string) {
	m.sel.Stage = strings.TrimSpace(stage)
}

// ClearStage unsets the stage.
func (m *Model) ClearStage() {
	m.sel.Stage = ""
}

// SelectAngle sets the angle.
func (m *Model) SelectAngle(angle string) {
	m.sel.Angle = strings.TrimSpace(angle)
}

// ClearAngle unsets the angle.
func (m *Model) ClearAngle() {
	m.sel.Angle = ""
}

// Reset clears every field.
func (m *Model) Reset() {
	m.sel = Selection{}
}

func (m *Model) HasAnyTags() bool { return m.sel.HasAnyTags() }
func (m *Model) HasAllTags() bool { return m.sel.HasAllTags() }
func (m *Model) Summary() string  { return m.sel.Summary() }

// GoString is used by %#v in debug logs.
func (m *Model) GoString() string {
	return fmt.Sprintf("tagging.Model{%q}", m.sel.Summary())
}
