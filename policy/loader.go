package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrPolicyLoad marks a malformed or missing policy document. It is fatal
// for any call depending on the policy; there is no partial recovery.
var ErrPolicyLoad = errors.New("policy load failed")

const (
	defaultMaxKeyLength   = 128
	defaultMaxValueLength = 256
)

// Load reads and validates a tagging policy document from a JSON file
func Load(path string) (*TaggingPolicy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPolicyLoad, path, err)
	}
	return Parse(data)
}

// Parse validates a policy document from raw JSON
func Parse(data []byte) (*TaggingPolicy, error) {
	var p TaggingPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parsing document: %v", ErrPolicyLoad, err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// compile validates the document and prepares rules for evaluation
func (p *TaggingPolicy) compile() error {
	if p.Version == "" {
		return fmt.Errorf("%w: version is required", ErrPolicyLoad)
	}
	if p.NamingRules.MaxKeyLength <= 0 {
		p.NamingRules.MaxKeyLength = defaultMaxKeyLength
	}
	if p.NamingRules.MaxValueLength <= 0 {
		p.NamingRules.MaxValueLength = defaultMaxValueLength
	}

	for i := range p.RequiredTags {
		if err := p.RequiredTags[i].compile("required_tags", i); err != nil {
			return err
		}
	}
	for i := range p.OptionalTags {
		if err := p.OptionalTags[i].compile("optional_tags", i); err != nil {
			return err
		}
	}

	return p.checkUniqueness()
}

// compile prepares one rule: compiles the regex once and builds the
// allowed-value set
func (r *TagRule) compile(section string, index int) error {
	if r.Name == "" {
		return fmt.Errorf("%w: %s[%d]: name is required", ErrPolicyLoad, section, index)
	}
	if r.ValidationRegex != "" {
		// Anchor so the value must fully match.
		compiled, err := regexp.Compile(`\A(?:` + r.ValidationRegex + `)\z`)
		if err != nil {
			return fmt.Errorf("%w: %s[%d] %q: invalid validation_regex: %v",
				ErrPolicyLoad, section, index, r.Name, err)
		}
		r.compiled = compiled
	}
	if len(r.AllowedValues) > 0 {
		r.allowedSet = make(map[string]struct{}, len(r.AllowedValues))
		for _, v := range r.AllowedValues {
			if v == "" {
				return fmt.Errorf("%w: %s[%d] %q: empty allowed value",
					ErrPolicyLoad, section, index, r.Name)
			}
			r.allowedSet[v] = struct{}{}
		}
	}
	return nil
}

// checkUniqueness rejects duplicate tag names within overlapping
// applies_to scopes. A tag that is both required and optional for the
// same scope is a load-time error rather than a silent tie-break.
func (p *TaggingPolicy) checkUniqueness() error {
	type scoped struct {
		rule    *TagRule
		section string
	}
	all := make([]scoped, 0, len(p.RequiredTags)+len(p.OptionalTags))
	for i := range p.RequiredTags {
		all = append(all, scoped{&p.RequiredTags[i], "required_tags"})
	}
	for i := range p.OptionalTags {
		all = append(all, scoped{&p.OptionalTags[i], "optional_tags"})
	}

	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if !p.sameKey(all[i].rule.Name, all[j].rule.Name) {
				continue
			}
			if scopesOverlap(all[i].rule.AppliesTo, all[j].rule.AppliesTo) {
				return fmt.Errorf("%w: tag %q appears in %s and %s with overlapping applies_to scopes",
					ErrPolicyLoad, all[i].rule.Name, all[i].section, all[j].section)
			}
		}
	}
	return nil
}
