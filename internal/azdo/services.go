package azdo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type projectsService struct {
	*service
}

// List returns every team project of an organization.
func (s *projectsService) List(ctx context.Context, organization string) ([]Project, error) {
	s.client.Logger.Debug("listing projects", "organization", organization)
	u := fmt.Sprintf("%s/%s/_apis/projects", s.client.BaseURL, url.PathEscape(organization))
	return listAll[Project](ctx, s.client, u, map[string]string{"$top": "500"})
}

// Get returns a single team project.
func (s *projectsService) Get(ctx context.Context, organization, projectID string) (*Project, error) {
	u := fmt.Sprintf("%s/%s/_apis/projects/%s", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	var project Project
	if _, err := s.client.get(ctx, u, map[string]string{"api-version": apiVersion}, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

type repositoriesService struct {
	*service
}

// List returns the git repositories of a project.
func (s *repositoriesService) List(ctx context.Context, organization, projectID string) ([]Repository, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/git/repositories", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	return listAll[Repository](ctx, s.client, u, nil)
}

type buildsService struct {
	*service
}

// ListDefinitions returns every build definition of a project including process details.
func (s *buildsService) ListDefinitions(ctx context.Context, organization, projectID string) ([]BuildDefinition, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/build/definitions", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	return listAll[BuildDefinition](ctx, s.client, u, map[string]string{"includeAllProperties": "true"})
}

// GetDefinition returns one build definition.
func (s *buildsService) GetDefinition(ctx context.Context, organization, projectID string, definitionID int) (*BuildDefinition, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/build/definitions/%d", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID), definitionID)
	var def BuildDefinition
	if _, err := s.client.get(ctx, u, map[string]string{"api-version": apiVersion}, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns one build run.
func (s *buildsService) Get(ctx context.Context, organization, projectID string, buildID int) (*Build, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/build/builds/%d", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID), buildID)
	var build Build
	if _, err := s.client.get(ctx, u, map[string]string{"api-version": apiVersion}, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

type releasesService struct {
	*service
}

// ListDefinitions returns every classic release definition of a project with environments expanded.
func (s *releasesService) ListDefinitions(ctx context.Context, organization, projectID string) ([]ReleaseDefinition, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/release/definitions", s.client.ReleaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	return listAll[ReleaseDefinition](ctx, s.client, u, map[string]string{"$expand": "environments,artifacts,triggers"})
}

// GetDefinition returns one release definition.
func (s *releasesService) GetDefinition(ctx context.Context, organization, projectID string, definitionID int) (*ReleaseDefinition, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/release/definitions/%d", s.client.ReleaseURL, url.PathEscape(organization), url.PathEscape(projectID), definitionID)
	var def ReleaseDefinition
	if _, err := s.client.get(ctx, u, map[string]string{"api-version": apiVersion}, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns one release.
func (s *releasesService) Get(ctx context.Context, organization, projectID string, releaseID int) (*Release, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/release/releases/%d", s.client.ReleaseURL, url.PathEscape(organization), url.PathEscape(projectID), releaseID)
	var release Release
	if _, err := s.client.get(ctx, u, map[string]string{"api-version": apiVersion}, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

type pipelinesService struct {
	*service
}

// FinalYaml expands templates of a YAML pipeline through a preview run and
// returns the resulting document.
func (s *pipelinesService) FinalYaml(ctx context.Context, organization, projectID string, pipelineID int) (string, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/pipelines/%d/preview", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID), pipelineID)
	var resp previewRunResponse
	err := s.client.post(ctx, u, map[string]string{"api-version": apiVersionPreview}, previewRunRequest{PreviewRun: true}, &resp)
	if err != nil {
		return "", err
	}
	return resp.FinalYaml, nil
}

type securityService struct {
	*service
}

// AccessControlLists returns the ACLs of a token with effective permissions.
func (s *securityService) AccessControlLists(ctx context.Context, organization, namespaceID, token string) ([]AccessControlList, error) {
	u := fmt.Sprintf("%s/%s/_apis/accesscontrollists/%s", s.client.BaseURL, url.PathEscape(organization), namespaceID)
	var resp Response[AccessControlList]
	_, err := s.client.get(ctx, u, map[string]string{
		"api-version":         apiVersion,
		"token":               token,
		"includeExtendedInfo": "true",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SetDeny merges an ACE denying bits for descriptor on token.
func (s *securityService) SetDeny(ctx context.Context, organization, namespaceID, token, descriptor string, bits int) error {
	s.client.Logger.Info("writing deny entry", "organization", organization, "namespace", namespaceID, "token", token, "descriptor", descriptor, "bits", bits)
	u := fmt.Sprintf("%s/%s/_apis/accesscontrolentries/%s", s.client.BaseURL, url.PathEscape(organization), namespaceID)
	body := aceWriteRequest{
		Token: token,
		Merge: true,
		AccessControlEntries: []AccessControlEntry{
			{Descriptor: descriptor, Deny: bits},
		},
	}
	return s.client.post(ctx, u, map[string]string{"api-version": apiVersion}, body, nil)
}

// Identities resolves ACE descriptors to identities.
func (s *securityService) Identities(ctx context.Context, organization string, descriptors []string) ([]Identity, error) {
	if len(descriptors) == 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/%s/_apis/identities", s.client.IdentityURL, url.PathEscape(organization))
	var resp Response[Identity]
	_, err := s.client.get(ctx, u, map[string]string{
		"api-version": apiVersion,
		"descriptors": strings.Join(descriptors, ","),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

type environmentsService struct {
	*service
}

// FindByName returns the environment with the given name, or a not found ResponseError.
func (s *environmentsService) FindByName(ctx context.Context, organization, projectID, name string) (*Environment, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/distributedtask/environments", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	environments, err := listAll[Environment](ctx, s.client, u, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	for i := range environments {
		if strings.EqualFold(environments[i].Name, name) {
			return &environments[i], nil
		}
	}
	return nil, &ResponseError{StatusCode: http.StatusNotFound, URL: u, Body: "environment " + name + " not found"}
}

// Checks returns the checks configured on an environment.
func (s *environmentsService) Checks(ctx context.Context, organization, projectID string, environmentID int) ([]CheckConfiguration, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/pipelines/checks/configurations", s.client.BaseURL, url.PathEscape(organization), url.PathEscape(projectID))
	var resp Response[CheckConfiguration]
	_, err := s.client.get(ctx, u, map[string]string{
		"api-version":  apiVersionPreview,
		"resourceType": "environment",
		"resourceId":   strconv.Itoa(environmentID),
		"$expand":      "settings",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}
