package sm9

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// ChangeClient closes single changes.
type ChangeClient interface {
	CloseChange(ctx context.Context, req CloseChangeRequest) error
}

// CloseChangesRequest closes several changes with the same completion.
type CloseChangesRequest struct {
	ChangeIDs          []string `json:"changeIds" validate:"required,min=1,dive,required"`
	CompletionCode     string   `json:"completionCode" validate:"required"`
	CompletionComments string   `json:"completionComments"`
}

// CloseResult is the outcome for one change.
type CloseResult struct {
	ChangeID string `json:"changeId"`
	Closed   bool   `json:"closed"`
	Error    string `json:"error,omitempty"`
}

// ChangeCloser closes changes concurrently.
type ChangeCloser struct {
	client ChangeClient
	logger hclog.Logger
}

// NewChangeCloser creates a closer on top of client.
func NewChangeCloser(client ChangeClient, logger hclog.Logger) *ChangeCloser {
	return &ChangeCloser{client: client, logger: logger}
}

// CloseChanges closes every change at once. One failing change does not stop
// the others; results keep the order of the request. Changes not yet closed
// when ctx is done are reported with the context error.
func (c *ChangeCloser) CloseChanges(ctx context.Context, req CloseChangesRequest) []CloseResult {
	results := make([]CloseResult, len(req.ChangeIDs))
	// only cancellation of ctx is returned to the group, so the group context
	// ends the remaining closes early without failing on a single change.
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range req.ChangeIDs {
		i, id := i, id
		g.Go(func() error {
			results[i].ChangeID = id
			if err := gctx.Err(); err != nil {
				results[i].Error = fmt.Sprintf("failed to close change %s: %v", id, err)
				return err
			}
			err := c.client.CloseChange(gctx, CloseChangeRequest{
				ChangeID:           id,
				CompletionCode:     req.CompletionCode,
				CompletionComments: req.CompletionComments,
			})
			if err != nil {
				c.logger.Warn("failed to close change", "change", id, "error", err)
				results[i].Error = fmt.Sprintf("failed to close change %s: %v", id, err)
				return ctx.Err()
			}
			results[i].Closed = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("closing changes was interrupted", "error", err)
	}
	return results
}
