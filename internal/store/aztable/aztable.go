// Package aztable implements the complyio stores on Azure Table Storage.
package aztable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/store"
	sharederrors "github.com/complyio/complyio/pkg/shared/errors"
)

// tableAPI is the part of *aztables.Client the stores use.
type tableAPI interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Store implements store.Store on four tables.
type Store struct {
	deviations    tableAPI
	exclusions    tableAPI
	registrations tableAPI
	reports       tableAPI
	logger        hclog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to the storage account and creates missing tables.
func New(ctx context.Context, connectionString string, logger hclog.Logger) (*Store, error) {
	service, err := aztables.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create table service client: %w", err)
	}

	for _, name := range []string{store.TableDeviations, store.TableExclusionList, store.TableDeploymentMethods, store.TableCompliancyReports} {
		if _, err := service.CreateTable(ctx, name, nil); err != nil && !isConflict(err) {
			return nil, fmt.Errorf("failed to create table %s: %w", name, err)
		}
		logger.Debug("table ready", "table", name)
	}

	return &Store{
		deviations:    service.NewClient(store.TableDeviations),
		exclusions:    service.NewClient(store.TableExclusionList),
		registrations: service.NewClient(store.TableDeploymentMethods),
		reports:       service.NewClient(store.TableCompliancyReports),
		logger:        logger,
	}, nil
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

func isPreconditionFailed(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusPreconditionFailed
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

type keys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

func upsert(ctx context.Context, table tableAPI, row interface{}) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func get(ctx context.Context, table tableAPI, resource string, key store.Key, row interface{}) error {
	resp, err := table.GetEntity(ctx, key.PartitionKey, key.RowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return sharederrors.NewNotFoundError(resource, key.String())
		}
		return err
	}
	return json.Unmarshal(resp.Value, row)
}

func remove(ctx context.Context, table tableAPI, resource string, key store.Key) error {
	_, err := table.DeleteEntity(ctx, key.PartitionKey, key.RowKey, nil)
	if isNotFound(err) {
		return sharederrors.NewNotFoundError(resource, key.String())
	}
	return err
}

// list decodes every entity of partition whose row key starts with prefix.
func list[T any](ctx context.Context, table tableAPI, partition, prefix string) ([]T, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", strings.ReplaceAll(partition, "'", "''"))
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var out []T
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var k keys
			if err := json.Unmarshal(raw, &k); err != nil {
				return nil, err
			}
			if !strings.HasPrefix(k.RowKey, prefix) {
				continue
			}
			var row T
			if err := json.Unmarshal(raw, &row); err != nil {
				return nil, err
			}
			out = append(out, row)
		}
	}
	return out, nil
}
