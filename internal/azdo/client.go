// Package azdo is a small Azure DevOps REST client covering the resources the
// compliance rules need: projects, repositories, build and release
// definitions, pipeline YAML, security ACLs and environment checks.
package azdo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/jellydator/ttlcache/v3"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/pkg/shared/httpclient"
)

const (
	apiVersion        = "7.1"
	apiVersionPreview = "7.1-preview.1"

	continuationHeader = "x-ms-continuationtoken"

	DefaultBaseURL     = "https://dev.azure.com"
	DefaultReleaseURL  = "https://vsrm.dev.azure.com"
	DefaultIdentityURL = "https://vssps.dev.azure.com"
)

// service wraps a client to access different services.
type service struct {
	client *Client
}

// Client configures and manages access to the Azure DevOps API.
type Client struct {
	HTTPClient  *httpclient.Client
	BaseURL     string
	ReleaseURL  string
	IdentityURL string
	Logger      hclog.Logger

	cache *ttlcache.Cache[string, cachedResponse]

	Projects     ProjectsService
	Repositories RepositoriesService
	Builds       BuildsService
	Releases     ReleasesService
	Pipelines    PipelinesService
	Security     SecurityService
	Environments EnvironmentsService
}

// ProjectsService lists team projects.
type ProjectsService interface {
	List(ctx context.Context, organization string) ([]Project, error)
	Get(ctx context.Context, organization, projectID string) (*Project, error)
}

// RepositoriesService lists git repositories.
type RepositoriesService interface {
	List(ctx context.Context, organization, projectID string) ([]Repository, error)
}

// BuildsService reads build definitions and build runs.
type BuildsService interface {
	ListDefinitions(ctx context.Context, organization, projectID string) ([]BuildDefinition, error)
	GetDefinition(ctx context.Context, organization, projectID string, definitionID int) (*BuildDefinition, error)
	Get(ctx context.Context, organization, projectID string, buildID int) (*Build, error)
}

// ReleasesService reads classic release definitions and releases.
type ReleasesService interface {
	ListDefinitions(ctx context.Context, organization, projectID string) ([]ReleaseDefinition, error)
	GetDefinition(ctx context.Context, organization, projectID string, definitionID int) (*ReleaseDefinition, error)
	Get(ctx context.Context, organization, projectID string, releaseID int) (*Release, error)
}

// PipelinesService resolves the final YAML of a pipeline.
type PipelinesService interface {
	FinalYaml(ctx context.Context, organization, projectID string, pipelineID int) (string, error)
}

// SecurityService reads and writes access control entries.
type SecurityService interface {
	AccessControlLists(ctx context.Context, organization, namespaceID, token string) ([]AccessControlList, error)
	SetDeny(ctx context.Context, organization, namespaceID, token, descriptor string, bits int) error
	Identities(ctx context.Context, organization string, descriptors []string) ([]Identity, error)
}

// EnvironmentsService resolves environments and their checks.
type EnvironmentsService interface {
	FindByName(ctx context.Context, organization, projectID, name string) (*Environment, error)
	Checks(ctx context.Context, organization, projectID string, environmentID int) ([]CheckConfiguration, error)
}

// ResponseError is returned for any non-2xx response.
type ResponseError struct {
	StatusCode int
	URL        string
	Body       string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("azure devops request %s failed with status code %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err is a 401 or 403 response.
func IsForbidden(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && (re.StatusCode == http.StatusForbidden || re.StatusCode == http.StatusUnauthorized)
}

type cachedResponse struct {
	body         []byte
	continuation string
}

type noCacheKey struct{}

// NoCache returns a context whose GET calls bypass the response cache. It is
// used when a read must observe a write made moments before.
func NoCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCacheKey{}, true)
}

func cacheDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noCacheKey{}).(bool)
	return v
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURLs points every service at the given hosts; used against test servers.
func WithBaseURLs(base, release, identity string) Option {
	return func(c *Client) {
		c.BaseURL = strings.TrimRight(base, "/")
		c.ReleaseURL = strings.TrimRight(release, "/")
		c.IdentityURL = strings.TrimRight(identity, "/")
	}
}

// New initializes a new API client authenticated with a personal access token.
func New(globalConfig *config.Config, logger hclog.Logger, token string, opts ...Option) (*Client, error) {
	httpClient, err := httpclient.New(logger, globalConfig)
	if err != nil {
		logger.Error("failed to initialize HTTP client", "error", err)
		return nil, err
	}
	httpClient.RestyClient.SetBasicAuth("", token)

	client := &Client{
		HTTPClient:  httpClient,
		BaseURL:     DefaultBaseURL,
		ReleaseURL:  DefaultReleaseURL,
		IdentityURL: DefaultIdentityURL,
		Logger:      logger,
		cache: ttlcache.New[string, cachedResponse](
			ttlcache.WithTTL[string, cachedResponse](config.GetCacheTTL(globalConfig)),
		),
	}
	for _, opt := range opts {
		opt(client)
	}

	client.Projects = &projectsService{&service{client}}
	client.Repositories = &repositoriesService{&service{client}}
	client.Builds = &buildsService{&service{client}}
	client.Releases = &releasesService{&service{client}}
	client.Pipelines = &pipelinesService{&service{client}}
	client.Security = &securityService{&service{client}}
	client.Environments = &environmentsService{&service{client}}

	go client.cache.Start()
	return client, nil
}

// Close stops the cache janitor.
func (c *Client) Close() {
	c.cache.Stop()
}

// headersBuilder returns a common request builder with the necessary headers.
func (c *Client) headersBuilder(ctx context.Context) *resty.Request {
	return c.HTTPClient.RestyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// get sends a GET request and decodes the response into out. Responses are
// memoised by resolved URL with a sliding expiration.
func (c *Client) get(ctx context.Context, fullURL string, query map[string]string, out interface{}) (string, error) {
	key := cacheKey(fullURL, query)
	if !cacheDisabled(ctx) {
		if item := c.cache.Get(key); item != nil {
			c.Logger.Trace("cache hit", "url", key)
			cached := item.Value()
			return cached.continuation, json.Unmarshal(cached.body, out)
		}
	}

	resp, err := c.headersBuilder(ctx).
		SetQueryParams(query).
		Get(fullURL)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", fullURL, err)
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}

	cached := cachedResponse{body: resp.Body(), continuation: resp.Header().Get(continuationHeader)}
	c.cache.Set(key, cached, ttlcache.DefaultTTL)

	if err := json.Unmarshal(cached.body, out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response from %s: %w", fullURL, err)
	}
	return cached.continuation, nil
}

// post sends a POST request. Writes are never cached.
func (c *Client) post(ctx context.Context, fullURL string, query map[string]string, body, out interface{}) error {
	resp, err := c.headersBuilder(ctx).
		SetQueryParams(query).
		SetBody(body).
		Post(fullURL)
	if err != nil {
		return fmt.Errorf("POST %s: %w", fullURL, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", fullURL, err)
	}
	return nil
}

func checkResponse(resp *resty.Response) error {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return nil
	}
	return &ResponseError{
		StatusCode: resp.StatusCode(),
		URL:        resp.Request.URL,
		Body:       truncate(resp.String(), 512),
	}
}

func cacheKey(fullURL string, query map[string]string) string {
	if len(query) == 0 {
		return fullURL
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	return fullURL + "?" + values.Encode()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// listAll follows continuation tokens until every page of a list endpoint was read.
func listAll[T any](ctx context.Context, c *Client, fullURL string, query map[string]string) ([]T, error) {
	var result []T
	token := ""
	for page := 0; ; page++ {
		q := map[string]string{"api-version": apiVersion}
		for k, v := range query {
			q[k] = v
		}
		if token != "" {
			q["continuationToken"] = token
		}

		c.Logger.Debug("fetching page", "url", fullURL, "page", page)
		var resp Response[T]
		next, err := c.get(ctx, fullURL, q, &resp)
		if err != nil {
			return nil, err
		}
		result = append(result, resp.Value...)

		if next == "" || next == token {
			break
		}
		token = next
	}
	return result, nil
}
