// Package queue publishes records to Azure Queue Storage.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/hashicorp/go-hclog"
)

// queueAPI is the part of *azqueue.QueueClient the publisher uses.
type queueAPI interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateResponse, error)
	EnqueueMessage(ctx context.Context, content string, options *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Publisher implements store.Publisher. Queues are created on first use.
type Publisher struct {
	newQueue func(name string) queueAPI
	logger   hclog.Logger

	mu     sync.Mutex
	queues map[string]queueAPI
}

// New creates a publisher for the storage account of connectionString.
func New(connectionString string, logger hclog.Logger) (*Publisher, error) {
	service, err := azqueue.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue service client: %w", err)
	}
	return newPublisher(func(name string) queueAPI { return service.NewQueueClient(name) }, logger), nil
}

func newPublisher(newQueue func(string) queueAPI, logger hclog.Logger) *Publisher {
	return &Publisher{newQueue: newQueue, logger: logger, queues: make(map[string]queueAPI)}
}

// Publish enqueues the base64 encoded JSON of record, the format queue
// triggered consumers expect.
func (p *Publisher) Publish(ctx context.Context, queue string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record for queue %s: %w", queue, err)
	}

	client, err := p.queue(ctx, queue)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueMessage(ctx, base64.StdEncoding.EncodeToString(payload), nil); err != nil {
		return fmt.Errorf("failed to enqueue message on %s: %w", queue, err)
	}
	p.logger.Debug("message published", "queue", queue, "bytes", len(payload))
	return nil
}

func (p *Publisher) queue(ctx context.Context, name string) (queueAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q := p.newQueue(name)
	if _, err := q.Create(ctx, nil); err != nil && !isConflict(err) {
		return nil, fmt.Errorf("failed to create queue %s: %w", name, err)
	}
	p.queues[name] = q
	return q, nil
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}
