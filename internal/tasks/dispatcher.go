// Package tasks enqueues case-processing work onto Cloud Tasks. Each task
// carries the blob location of a case envelope and is retried by the queue
// until the processor acknowledges it.
package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	cloudtasks "google.golang.org/api/cloudtasks/v2"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Payload is the task body POSTed to the processor endpoint.
type Payload struct {
	Bucket   string `json:"bucket"`
	BlobPath string `json:"blob_path"`
}

// Dispatcher creates tasks on one queue.
type Dispatcher struct {
	svc          *cloudtasks.Service
	queuePath    string
	processorURL string
	saEmail      string
}

// NewDispatcher builds the dispatcher using ambient Google credentials.
func NewDispatcher(ctx context.Context, project, region, queue, processorURL, saEmail string) (*Dispatcher, error) {
	svc, err := cloudtasks.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud tasks service: %w", err)
	}
	return &Dispatcher{
		svc:          svc,
		queuePath:    fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, region, queue),
		processorURL: processorURL,
		saEmail:      saEmail,
	}, nil
}

// Enqueue creates one task pointing the processor at a case envelope. The
// task authenticates with an OIDC token minted for the service account.
func (d *Dispatcher) Enqueue(ctx context.Context, bucket, blobPath string) (string, error) {
	body, err := json.Marshal(Payload{Bucket: bucket, BlobPath: blobPath})
	if err != nil {
		return "", err
	}

	task := &cloudtasks.Task{
		HttpRequest: &cloudtasks.HttpRequest{
			HttpMethod: "POST",
			Url:        d.processorURL,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       base64.StdEncoding.EncodeToString(body),
			OidcToken: &cloudtasks.OidcToken{
				ServiceAccountEmail: d.saEmail,
				Audience:            d.processorURL,
			},
		},
	}

	created, err := d.svc.Projects.Locations.Queues.Tasks.
		Create(d.queuePath, &cloudtasks.CreateTaskRequest{Task: task}).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("enqueue case task: %w", err)
	}
	logger.Info("case task enqueued", "task", created.Name, "blob_path", blobPath)
	return created.Name, nil
}
