// Package soul loads the agent identity document served alongside audits.
package soul

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoAgentCard is returned when the document lacks an agent_card.
var ErrNoAgentCard = errors.New("soul document has no agent_card")

// Document is the parsed soul file. JSON files parse as YAML.
type Document struct {
	AgentCard map[string]any `yaml:"agent_card"`
}

// Artifact describes one proof advertised by the façade.
type Artifact struct {
	Type        string `json:"type"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description"`
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read soul document: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a JSON or YAML soul document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse soul document: %w", err)
	}
	if len(doc.AgentCard) == 0 {
		return nil, ErrNoAgentCard
	}
	return &doc, nil
}

// PCR0 returns agent_card.technical_specs.pcr0, or "" when absent.
func (d *Document) PCR0() string {
	if d == nil {
		return ""
	}
	specs, ok := d.AgentCard["technical_specs"].(map[string]any)
	if !ok {
		return ""
	}
	switch v := specs["pcr0"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Artifacts returns the proof block published with every inference response.
func (d *Document) Artifacts() map[string]Artifact {
	return map[string]Artifact{
		"tee_proof": {
			Type:        "Hardware Attestation (PCR0)",
			Value:       d.PCR0(),
			Description: "Proves the audit logic is isolated within the AWS Nitro Enclave.",
		},
		"8004_proof": {
			Type:        "Signed Manifest (Reputation)",
			Description: "The agent's signed 'Proof of Truth', staking its reputation on the audit.",
		},
	}
}
