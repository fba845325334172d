package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/generator"
	"github.com/nugget/coachd/internal/protocol"
	"github.com/nugget/coachd/internal/tools"
)

type topic struct {
	name    string
	enabled func(coach.Refusals) bool
	pattern *regexp.Regexp
}

// Refusal topics are matched on phrases that read as advice. Medical
// refusals also trip on any talk of diagnosing.
var refusalTopics = []topic{
	{
		name:    "medical",
		enabled: func(r coach.Refusals) bool { return r.Medical },
		pattern: regexp.MustCompile(`(?i)\b(you (probably |likely )?have (a |an )?[a-z]+ (disorder|disease|syndrome|infection)|take \d+ ?(mg|milligrams)|increase your dos(e|age)|stop taking your medication|diagnos(e|es|is|ing)\b)`),
	},
	{
		name:    "legal",
		enabled: func(r coach.Refusals) bool { return r.Legal },
		pattern: regexp.MustCompile(`(?i)\b(you should sue|file a lawsuit|you have a strong (legal )?case|you are legally (entitled|required)|this is my legal advice)`),
	},
	{
		name:    "financial",
		enabled: func(r coach.Refusals) bool { return r.Financial },
		pattern: regexp.MustCompile(`(?i)\b(you should (buy|sell|short) (shares|stock|stocks|crypto|bitcoin)|invest (all|most|half) of your|put your savings (in|into)|guaranteed returns?)`),
	},
	{
		name:    "self_harm",
		enabled: func(r coach.Refusals) bool { return r.SelfHarm },
		pattern: regexp.MustCompile(`(?i)\b(ways to (hurt|harm|kill) yourself|how to (hurt|harm|kill) yourself|method(s)? of suicide)`),
	},
}

// RefusalScreen rejects replies that give advice on a topic the coach
// refuses. Each topic is checked only when its flag is set.
func RefusalScreen() Screen {
	return ScreenFunc(func(out *generator.CoachOutput, spec *coach.Spec) *Violation {
		for _, t := range refusalTopics {
			if !t.enabled(spec.Policies.Refusals) {
				continue
			}
			if t.pattern.MatchString(out.MessageText) {
				return &Violation{
					Kind:    KindSafetyBoundary,
					Message: fmt.Sprintf("reply gives %s advice this coach does not offer", strings.ReplaceAll(t.name, "_", "-")),
				}
			}
		}
		return nil
	})
}

// PrivacyScreen rejects output matching one of the coach's redact
// patterns while sensitive memory is disabled. A pattern that is not a
// valid regular expression is matched literally.
func PrivacyScreen() Screen {
	return ScreenFunc(func(out *generator.CoachOutput, spec *coach.Spec) *Violation {
		priv := spec.Policies.Privacy
		if priv.StoreSensitiveMemory {
			return nil
		}
		text := outputText(out)
		for _, p := range priv.RedactPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				re = regexp.MustCompile(regexp.QuoteMeta(p))
			}
			if re.MatchString(text) {
				return &Violation{Kind: KindPrivacy, Message: "output contains content the coach's privacy policy redacts"}
			}
		}
		return nil
	})
}

// ToolConsentScreen checks each tool request against the catalog and
// the coach: the tool must exist and be allowed, and a tool that needs
// confirmation must be flagged as such.
func ToolConsentScreen(registry *tools.Registry) Screen {
	return ScreenFunc(func(out *generator.CoachOutput, spec *coach.Spec) *Violation {
		for _, req := range out.ToolRequests {
			t, err := registry.Get(req.Tool)
			if err != nil {
				return &Violation{Kind: KindToolConsent, Message: fmt.Sprintf("unknown tool %q", req.Tool)}
			}
			if !spec.Tools.Allowed(t.ID) {
				return &Violation{Kind: KindToolConsent, Message: fmt.Sprintf("tool %s is not allowed for this coach", t.ID)}
			}
			if (t.RequiresConfirmation || spec.Tools.NeedsConfirmation(t.ID)) && !req.RequiresConfirmation {
				return &Violation{Kind: KindToolConsent, Message: fmt.Sprintf("tool %s requires user confirmation", t.ID)}
			}
		}
		return nil
	})
}

var sensitivePatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"password", regexp.MustCompile(`(?i)\bpass(word|wd)\s*[:=]\s*\S+`)},
	{"api key", regexp.MustCompile(`(?i)\bapi[_ -]?key\s*[:=]\s*\S+`)},
	{"secret", regexp.MustCompile(`(?i)\bsecret\s*[:=]\s*\S+`)},
	{"token", regexp.MustCompile(`(?i)\b(access|auth|bearer)?[_ -]?token\s*[:=]\s*\S+`)},
	{"credit card", regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// SensitiveDataScreen rejects output carrying credentials or
// identifiers. It applies to every coach.
func SensitiveDataScreen() Screen {
	return ScreenFunc(func(out *generator.CoachOutput, _ *coach.Spec) *Violation {
		text := outputText(out)
		for _, p := range sensitivePatterns {
			if p.pattern.MatchString(text) {
				return &Violation{Kind: KindSensitiveData, Message: fmt.Sprintf("output appears to contain a %s", p.name)}
			}
		}
		return nil
	})
}

// outputText joins the reply and every free-text tool payload field.
func outputText(out *generator.CoachOutput) string {
	var sb strings.Builder
	sb.WriteString(out.MessageText)
	for _, req := range out.ToolRequests {
		writePayload(&sb, req.Payload)
	}
	return sb.String()
}

func writePayload(sb *strings.Builder, p protocol.ToolPayload) {
	for _, s := range append([]string{p.Title, p.Note}, p.Commitments...) {
		if s != "" {
			sb.WriteString("\n")
			sb.WriteString(s)
		}
	}
}
