package rules

import (
	"fmt"
	"strings"
)

// Name identifies a rule. The set of valid names is closed.
type Name string

const (
	NobodyCanDeleteTheTeamProject Name = "NobodyCanDeleteTheTeamProject"
	NobodyCanDeleteTheRepository  Name = "NobodyCanDeleteTheRepository"
	NobodyCanDeleteBuilds         Name = "NobodyCanDeleteBuilds"
	NobodyCanDeleteReleases       Name = "NobodyCanDeleteReleases"

	BuildPipelineHasSonarqubeTask             Name = "BuildPipelineHasSonarqubeTask"
	BuildPipelineHasFortifyTask               Name = "BuildPipelineHasFortifyTask"
	BuildPipelineHasNexusIqTask               Name = "BuildPipelineHasNexusIqTask"
	BuildPipelineFollowsMainframeCobolProcess Name = "BuildPipelineFollowsMainframeCobolProcess"
	YamlReleasePipelineHasSm9ChangeTask       Name = "YamlReleasePipelineHasSm9ChangeTask"
	ClassicReleasePipelineHasSm9ChangeTask    Name = "ClassicReleasePipelineHasSm9ChangeTask"

	YamlReleasePipelineIsBlockedWithout4EyesApproval    Name = "YamlReleasePipelineIsBlockedWithout4EyesApproval"
	ClassicReleasePipelineIsBlockedWithout4EyesApproval Name = "ClassicReleasePipelineIsBlockedWithout4EyesApproval"
)

var knownNames = []Name{
	NobodyCanDeleteTheTeamProject,
	NobodyCanDeleteTheRepository,
	NobodyCanDeleteBuilds,
	NobodyCanDeleteReleases,
	BuildPipelineHasSonarqubeTask,
	BuildPipelineHasFortifyTask,
	BuildPipelineHasNexusIqTask,
	BuildPipelineFollowsMainframeCobolProcess,
	YamlReleasePipelineHasSm9ChangeTask,
	ClassicReleasePipelineHasSm9ChangeTask,
	YamlReleasePipelineIsBlockedWithout4EyesApproval,
	ClassicReleasePipelineIsBlockedWithout4EyesApproval,
}

// KnownNames returns every valid rule name.
func KnownNames() []Name {
	out := make([]Name, len(knownNames))
	copy(out, knownNames)
	return out
}

// ParseName returns the canonical Name for s, matched case-insensitively.
func ParseName(s string) (Name, error) {
	for _, n := range knownNames {
		if strings.EqualFold(string(n), strings.TrimSpace(s)) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown rule name %q", s)
}

// IsKnownName reports whether s names a rule.
func IsKnownName(s string) bool {
	_, err := ParseName(s)
	return err == nil
}
