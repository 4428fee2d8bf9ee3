package applicationstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"btr-application-api/internal/models"
)

// Indexer mirrors committed applications into a search backend.
type Indexer interface {
	Index(ctx context.Context, app *models.Application) error
}

// ElasticsearchIndexer writes one document per application, keyed by its
// applicationId so a replay overwrites instead of duplicating.
type ElasticsearchIndexer struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchIndexer(client *elasticsearch.Client, index string) *ElasticsearchIndexer {
	return &ElasticsearchIndexer{client: client, index: index}
}

func (i *ElasticsearchIndexer) Index(ctx context.Context, app *models.Application) error {
	body, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}

	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(app.ApplicationID),
	)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index error: %s: %s", res.Status(), msg)
	}
	return nil
}
