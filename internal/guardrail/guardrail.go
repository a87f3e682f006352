// Package guardrail implements the content-safety pipeline the agent loop
// runs over inbound channel messages before they reach the model.
// Context.IsToolOutput marks content that came from a tool; the agent loop
// itself evaluates inbound messages only.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
)

// Severity ranks a Violation so a pipeline can decide whether to block.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Violation is a single rule match against a piece of content.
type Violation struct {
	Rule        string
	Severity    Severity
	Description string
}

// Result is the outcome of running one or more rules.
type Result struct {
	Passed     bool
	Violations []Violation
}

// Context carries call-site information a rule may use to decide severity.
type Context struct {
	Source       string
	Channel      string
	IsToolOutput bool
}

// Rule checks a piece of content and reports any violations it finds.
type Rule interface {
	Name() string
	Check(ctx context.Context, content string, gctx Context) (Result, error)
}

type injectionPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
}

// PromptInjectionDetector flags content shaped like an attempt to override
// the system prompt, hijack the assistant's role, extract hidden
// instructions, smuggle a fake chat delimiter, coerce a destructive tool
// call, or exfiltrate data to an external endpoint.
type PromptInjectionDetector struct {
	patterns []injectionPattern
	logger   *slog.Logger
}

// NewPromptInjectionDetector compiles the default pattern set, skipping any
// pattern that fails to compile (logged, never fatal).
func NewPromptInjectionDetector(logger *slog.Logger) *PromptInjectionDetector {
	if logger == nil {
		logger = slog.Default()
	}
	raw := []struct {
		name     string
		pattern  string
		severity Severity
	}{
		{"system_prompt_override", `(?i)(ignore|forget|disregard)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`, SeverityCritical},
		{"role_hijack", `(?i)(you\s+are\s+now|act\s+as|pretend\s+to\s+be|your\s+new\s+(role|instructions))`, SeverityHigh},
		{"system_prompt_extraction", `(?i)(reveal|show|display|print|output)\s+(your\s+)?(system\s+prompt|instructions|initial\s+prompt|hidden\s+prompt)`, SeverityHigh},
		{"delimiter_injection", "(?i)(```\\s*system|<\\|im_start\\|>|<\\|system\\|>|\\[INST\\]|\\[/INST\\])", SeverityCritical},
		{"tool_abuse", `(?i)(execute|run|call)\s+(the\s+)?(tool|function|command)\s+.{0,20}(rm\s+-rf|drop\s+table|delete\s+all|format\s+disk)`, SeverityCritical},
		{"data_exfiltration", `(?i)(send|post|upload|transmit|exfiltrate)\s+.{0,30}(to\s+|http|ftp|webhook)`, SeverityMedium},
	}
	patterns := make([]injectionPattern, 0, len(raw))
	for _, r := range raw {
		re, err := regexp.Compile(r.pattern)
		if err != nil {
			logger.Warn("guardrail: failed to compile pattern", "rule", r.name, "error", err)
			continue
		}
		patterns = append(patterns, injectionPattern{name: r.name, re: re, severity: r.severity})
	}
	return &PromptInjectionDetector{patterns: patterns, logger: logger}
}

func (d *PromptInjectionDetector) Name() string { return "prompt_injection_detector" }

func (d *PromptInjectionDetector) Check(_ context.Context, content string, gctx Context) (Result, error) {
	var violations []Violation
	for _, p := range d.patterns {
		if p.re.MatchString(content) {
			d.logger.Warn("guardrail: prompt injection detected", "rule", p.name, "source", gctx.Source, "severity", p.severity.String())
			violations = append(violations, Violation{
				Rule:        p.name,
				Severity:    p.severity,
				Description: fmt.Sprintf("Potential prompt injection detected: %s", p.name),
			})
		}
	}
	if len(violations) == 0 {
		return Result{Passed: true}, nil
	}
	return Result{Passed: false, Violations: violations}, nil
}

// ContentLengthGuardrail rejects content past a byte-length ceiling.
type ContentLengthGuardrail struct {
	MaxLength int
}

// NewContentLengthGuardrail returns a guardrail with the default 100,000
// byte ceiling.
func NewContentLengthGuardrail() *ContentLengthGuardrail {
	return &ContentLengthGuardrail{MaxLength: 100_000}
}

func (g *ContentLengthGuardrail) Name() string { return "content_length" }

func (g *ContentLengthGuardrail) Check(_ context.Context, content string, _ Context) (Result, error) {
	if len(content) > g.MaxLength {
		return Result{Passed: false, Violations: []Violation{{
			Rule:        "content_too_long",
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Content length %d exceeds maximum %d", len(content), g.MaxLength),
		}}}, nil
	}
	return Result{Passed: true}, nil
}

// Pipeline runs a sequence of rules and decides whether their combined
// violations should block the content.
type Pipeline struct {
	rules            []Rule
	blockOnSeverity  Severity
	logger           *slog.Logger
}

// NewPipeline returns an empty pipeline blocking at SeverityHigh and above.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{blockOnSeverity: SeverityHigh, logger: logger}
}

// WithDefaults returns a pipeline pre-loaded with the prompt-injection
// detector and the 100KB content-length guardrail.
func WithDefaults(logger *slog.Logger) *Pipeline {
	p := NewPipeline(logger)
	p.AddRule(NewPromptInjectionDetector(logger))
	p.AddRule(NewContentLengthGuardrail())
	return p
}

func (p *Pipeline) AddRule(r Rule) { p.rules = append(p.rules, r) }

func (p *Pipeline) SetBlockSeverity(s Severity) { p.blockOnSeverity = s }

// Evaluate runs every rule against content and reports whether it should be
// blocked. Sub-threshold violations are still returned (Passed stays true)
// so callers can log or surface them without rejecting the content.
func (p *Pipeline) Evaluate(ctx context.Context, content string, gctx Context) (Result, error) {
	var all []Violation
	for _, rule := range p.rules {
		res, err := rule.Check(ctx, content, gctx)
		if err != nil {
			return Result{}, fmt.Errorf("guardrail rule %q: %w", rule.Name(), err)
		}
		all = append(all, res.Violations...)
	}

	shouldBlock := false
	for _, v := range all {
		if v.Severity >= p.blockOnSeverity {
			shouldBlock = true
			break
		}
	}

	if len(all) == 0 {
		p.logger.Debug("guardrails: all rules passed", "rule_count", len(p.rules))
		return Result{Passed: true}, nil
	}
	if shouldBlock {
		p.logger.Warn("guardrails: blocked", "violation_count", len(all))
		return Result{Passed: false, Violations: all}, nil
	}
	p.logger.Debug("guardrails: low-severity violations, not blocking", "violation_count", len(all))
	return Result{Passed: true, Violations: all}, nil
}
