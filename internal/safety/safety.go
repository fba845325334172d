// Package safety screens a finished coach reply and its proposed tool
// requests against the coach's policies before anything is acted on.
package safety

import (
	"fmt"

	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/tools"
)

// Violation kinds, reported to the client as policy.notice kinds.
const (
	KindSafetyBoundary = "safety_boundary"
	KindPrivacy        = "privacy"
	KindToolConsent    = "tool_consent"
	KindSensitiveData  = "sensitive_data"
)

// Violation is a failed screen.
type Violation struct {
	Kind    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// Screen checks one policy. It returns nil when the output passes.
type Screen interface {
	Check(out *generator.CoachOutput, spec *coach.Spec) *Violation
}

// ScreenFunc adapts a function to [Screen].
type ScreenFunc func(out *generator.CoachOutput, spec *coach.Spec) *Violation

// Check calls f.
func (f ScreenFunc) Check(out *generator.CoachOutput, spec *coach.Spec) *Violation {
	return f(out, spec)
}

// Filter runs screens in order. The first violation wins.
type Filter struct {
	screens []Screen
}

// New creates a filter from screens.
func New(screens ...Screen) *Filter {
	return &Filter{screens: screens}
}

// Default returns the standard screen order: refusals, privacy, tool
// consent, then sensitive data.
func Default(registry *tools.Registry) *Filter {
	return New(
		RefusalScreen(),
		PrivacyScreen(),
		ToolConsentScreen(registry),
		SensitiveDataScreen(),
	)
}

// Validate returns a *Violation for the first failing screen, or nil.
func (f *Filter) Validate(out *generator.CoachOutput, spec *coach.Spec) error {
	for _, s := range f.screens {
		if v := s.Check(out, spec); v != nil {
			return v
		}
	}
	return nil
}
