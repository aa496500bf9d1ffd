// Package sm9 talks to the SM9 CMDB and change management API.
package sm9

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/pkg/shared/httpclient"
)

// ConfigurationItem is a CMDB configuration item.
type ConfigurationItem struct {
	CiIdentifier     string `json:"ciIdentifier"`
	CiName           string `json:"ciName"`
	CiSubtype        string `json:"ciSubtype"`
	Status           string `json:"status"`
	IsSoxApplication bool   `json:"isSoxApplication"`
	AssignmentGroup  string `json:"assignmentGroup"`
	AicRating        string `json:"aicRating"`
}

// DeploymentMethod is a CMDB record linking a CI to an Azure DevOps pipeline or stage.
type DeploymentMethod struct {
	CiIdentifier string `json:"ciIdentifier"`
	CiName       string `json:"ciName"`
	Organization string `json:"organization"`
	ProjectID    string `json:"projectId"`
	PipelineID   string `json:"pipelineId"`
	PipelineType string `json:"pipelineType"`
	StageID      string `json:"stageId"`
}

// CloseChangeRequest closes one change.
type CloseChangeRequest struct {
	ChangeID           string `json:"changeId"`
	CompletionCode     string `json:"completionCode"`
	CompletionComments string `json:"completionComments,omitempty"`
}

type deploymentMethodsResponse struct {
	Items []DeploymentMethod `json:"items"`
	Next  string             `json:"next,omitempty"`
}

// ResponseError is returned for any non-2xx response.
type ResponseError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("sm9 request %s failed with status code %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// Client is the SM9 REST client.
type Client struct {
	HTTPClient *httpclient.Client
	BaseURL    string
	Logger     hclog.Logger
}

// New creates a client for the sm9 section of the configuration.
func New(cfg *config.Config, logger hclog.Logger) (*Client, error) {
	if cfg == nil || cfg.SM9.BaseURL == "" {
		return nil, fmt.Errorf("sm9.base_url is not configured")
	}
	httpClient, err := httpclient.New(logger, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SM9.Token != "" {
		httpClient.RestyClient.SetAuthToken(cfg.SM9.Token)
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(cfg.SM9.BaseURL, "/"),
		Logger:     logger.Named("sm9"),
	}, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.HTTPClient.RestyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// GetConfigurationItem looks up a CI by identifier.
func (c *Client) GetConfigurationItem(ctx context.Context, ciIdentifier string) (*ConfigurationItem, error) {
	u := fmt.Sprintf("%s/cmdb/configurationitems/%s", c.BaseURL, url.PathEscape(ciIdentifier))
	var ci ConfigurationItem
	resp, err := c.request(ctx).SetResult(&ci).Get(u)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &ci, nil
}

// ListDeploymentMethods returns every Azure DevOps deployment method known to the CMDB.
func (c *Client) ListDeploymentMethods(ctx context.Context) ([]DeploymentMethod, error) {
	u := c.BaseURL + "/cmdb/deploymentmethods"
	var all []DeploymentMethod
	next := ""
	for {
		var page deploymentMethodsResponse
		req := c.request(ctx).SetResult(&page).SetQueryParam("supplier", "AzureDevOps")
		if next != "" {
			req.SetQueryParam("next", next)
		}
		resp, err := req.Get(u)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", u, err)
		}
		if err := checkResponse(resp); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Next == "" {
			return all, nil
		}
		next = page.Next
	}
}

// CloseChange closes a change.
func (c *Client) CloseChange(ctx context.Context, req CloseChangeRequest) error {
	u := fmt.Sprintf("%s/changes/%s/close", c.BaseURL, url.PathEscape(req.ChangeID))
	resp, err := c.request(ctx).SetBody(req).Post(u)
	if err != nil {
		return fmt.Errorf("POST %s: %w", u, err)
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := resp.String()
	if len(body) > 512 {
		body = body[:512]
	}
	return &ResponseError{StatusCode: resp.StatusCode(), URL: resp.Request.URL, Body: body}
}
