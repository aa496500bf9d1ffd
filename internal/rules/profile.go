package rules

import (
	"fmt"
	"strings"

	"github.com/complyio/complyio/internal/config"
)

// Built-in profile names.
const (
	DefaultProfileName        = "Default"
	MainframeCobolProfileName = "MainframeCobol"
)

// Profile is a named set of rules.
type Profile struct {
	Name  string
	Rules []Name
}

// Has reports whether the profile contains rule.
func (p Profile) Has(rule Name) bool {
	for _, r := range p.Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// DefaultProfile contains every rule except the mainframe specific one.
func DefaultProfile() Profile {
	var names []Name
	for _, n := range knownNames {
		if n != BuildPipelineFollowsMainframeCobolProcess {
			names = append(names, n)
		}
	}
	return Profile{Name: DefaultProfileName, Rules: names}
}

// MainframeCobolProfile is the default profile plus the mainframe COBOL build process.
func MainframeCobolProfile() Profile {
	p := DefaultProfile()
	p.Name = MainframeCobolProfileName
	p.Rules = append(p.Rules, BuildPipelineFollowsMainframeCobolProcess)
	return p
}

// Profiles resolves rule profiles by name.
type Profiles map[string]Profile

// ProfilesFromConfig returns the built-in profiles merged with the configured
// ones. Any unknown rule name is a configuration error.
func ProfilesFromConfig(cfgProfiles []config.RuleProfile) (Profiles, error) {
	profiles := Profiles{}
	for _, p := range []Profile{DefaultProfile(), MainframeCobolProfile()} {
		profiles[strings.ToLower(p.Name)] = p
	}

	for _, cp := range cfgProfiles {
		profile := Profile{Name: cp.Name}
		for _, raw := range cp.Rules {
			name, err := ParseName(raw)
			if err != nil {
				return nil, fmt.Errorf("rule profile %q: %w", cp.Name, err)
			}
			profile.Rules = append(profile.Rules, name)
		}
		profiles[strings.ToLower(cp.Name)] = profile
	}
	return profiles, nil
}

// Get returns the profile called name, falling back to the default profile
// when name is empty or unknown.
func (p Profiles) Get(name string) Profile {
	if profile, ok := p[strings.ToLower(strings.TrimSpace(name))]; ok {
		return profile
	}
	if profile, ok := p[strings.ToLower(DefaultProfileName)]; ok {
		return profile
	}
	return DefaultProfile()
}

// Lookup returns the profile called name without falling back.
func (p Profiles) Lookup(name string) (Profile, bool) {
	profile, ok := p[strings.ToLower(strings.TrimSpace(name))]
	return profile, ok
}

// Names returns the profile names.
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for _, profile := range p {
		names = append(names, profile.Name)
	}
	return names
}
