package classification

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"formrelay/core/domain"

	"gopkg.in/yaml.v3"
)

// ParseRulesetSpec decodes a YAML (or JSON, which is valid YAML) ruleset
// document. Unknown keys are rejected.
func ParseRulesetSpec(data []byte) (*domain.RulesetSpec, error) {
	var spec domain.RulesetSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ruleset document is empty")
		}
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	return &spec, nil
}

// LoadRulesetFile reads and compiles a ruleset file. An empty path yields the
// default ruleset.
func LoadRulesetFile(path string) (*Ruleset, error) {
	if path == "" {
		return DefaultRuleset(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset file: %w", err)
	}
	spec, err := ParseRulesetSpec(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rs, err := Compile(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}
