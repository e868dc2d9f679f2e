package classify

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// ErrInvalidPolicy is returned when a policy document fails validation.
var ErrInvalidPolicy = errors.New("classify: invalid policy")

// Policy is the fixed instruction set sent with every classification
// request: label definitions, rules and worked examples.
type Policy struct {
	Preamble string `yaml:"preamble"`
	Labels   []struct {
		Name       Label  `yaml:"name"`
		Definition string `yaml:"definition"`
	} `yaml:"labels"`
	Rules    []string  `yaml:"rules"`
	Examples []Example `yaml:"examples"`
}

// Example is one worked input/output pair.
type Example struct {
	Input  Input  `yaml:"input"`
	Output Output `yaml:"output"`
}

// exampleInput is the shape examples are rendered with.
type exampleInput struct {
	SegmentText         string  `json:"segment_text"`
	ASRMeanConfidence   float64 `json:"asr_mean_confidence"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("classify: decode policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile reads a policy document from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("classify: read policy: %w", err)
	}
	return ParsePolicy(data)
}

var defaultPolicy = sync.OnceValues(func() (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
})

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	p, err := defaultPolicy()
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) validate() error {
	if strings.TrimSpace(p.Preamble) == "" {
		return fmt.Errorf("%w: preamble is empty", ErrInvalidPolicy)
	}
	if len(p.Labels) == 0 {
		return fmt.Errorf("%w: no labels defined", ErrInvalidPolicy)
	}
	for _, l := range p.Labels {
		if !l.Name.Valid() {
			return fmt.Errorf("%w: unknown label %q", ErrInvalidPolicy, l.Name)
		}
	}
	for i, ex := range p.Examples {
		if !ex.Output.Label.Valid() {
			return fmt.Errorf("%w: example %d has unknown label %q", ErrInvalidPolicy, i+1, ex.Output.Label)
		}
		if err := VerifySpans(ex.Input.SegmentText, ex.Output.Spans); err != nil {
			return fmt.Errorf("%w: example %d: %w", ErrInvalidPolicy, i+1, err)
		}
	}
	return nil
}

// SystemPrompt renders the policy into the system message. The result only
// depends on the policy, so every segment in a run sees the same prompt.
func (p *Policy) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Preamble))
	b.WriteString("\n\nPOLICY\n")
	for _, l := range p.Labels {
		fmt.Fprintf(&b, "- %s: %s\n", l.Name, l.Definition)
	}

	b.WriteString("\nRULES\n")
	for _, r := range p.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	b.WriteString("\nEXAMPLES:\n")
	for i, ex := range p.Examples {
		in, _ := json.Marshal(exampleInput{
			SegmentText:         ex.Input.SegmentText,
			ASRMeanConfidence:   ex.Input.ASRMeanConfidence,
			ConfidenceThreshold: ex.Input.ConfidenceThreshold,
		})
		out := ex.Output
		if out.Spans == nil {
			out.Spans = []EvidenceSpan{}
		}
		outJSON, _ := json.Marshal(out)
		fmt.Fprintf(&b, "\nExample %d (%s):\nInput: %s\nOutput: %s\n", i+1, ex.Output.Label, in, outJSON)
	}

	b.WriteString("\nJSON SCHEMA:\n")
	b.WriteString(schemaJSON())
	return b.String()
}

// UserPrompt renders one segment request.
func UserPrompt(in Input) (string, error) {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("classify: marshal input: %w", err)
	}
	return "Input:\n" + string(data), nil
}
