package pipeline

import (
	"fmt"
	"strings"
)

// SecuredKind identifies which security namespace a token belongs to.
type SecuredKind int

const (
	SecuredProject SecuredKind = iota
	SecuredRepository
	SecuredBuildDefinition
	SecuredReleaseDefinition
)

// Security namespaces and the permission bits the delete rules care about.
const (
	NamespaceProject = "52d39943-cb85-4d7f-8fa8-c6baac873819"
	NamespaceGit     = "2e9eb7ed-3c0a-47d4-87c1-0ffdd275fd87"
	NamespaceBuild   = "33344d9c-fc72-4d6f-aba5-fa317101a7e9"
	NamespaceRelease = "c788c23e-1b46-4162-8f5e-d7585343b5de"

	PermissionDeleteProject           = 4
	PermissionDeleteRepository        = 512
	PermissionDeleteBuilds            = 8
	PermissionDestroyBuilds           = 32
	PermissionDeleteBuildDefinition   = 4096
	PermissionDeleteReleaseDefinition = 4
	PermissionDeleteReleases          = 1024
)

// Namespace returns the security namespace id of kind.
func (k SecuredKind) Namespace() string {
	switch k {
	case SecuredRepository:
		return NamespaceGit
	case SecuredBuildDefinition:
		return NamespaceBuild
	case SecuredReleaseDefinition:
		return NamespaceRelease
	default:
		return NamespaceProject
	}
}

// SecurityToken returns the ACL token of a secured resource. path is the
// definition folder and is ignored for projects and repositories.
func SecurityToken(kind SecuredKind, projectID, path, itemID string) string {
	switch kind {
	case SecuredProject:
		return fmt.Sprintf("$PROJECT:vstfs:///Classification/TeamProject/%s", projectID)
	case SecuredRepository:
		return fmt.Sprintf("repoV2/%s/%s", projectID, itemID)
	default:
		segments := []string{projectID}
		for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '\\' || r == '/' }) {
			segments = append(segments, part)
		}
		segments = append(segments, itemID)
		return strings.Join(segments, "/")
	}
}
