package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Indexer writes JSON documents into daily indices named "{prefix}-YYYY.MM.DD".
type Indexer struct {
	client *opensearch.Client
	prefix string
}

// NewIndexer creates an Indexer. An empty prefix defaults to "jobkit-errors".
func NewIndexer(client *opensearch.Client, prefix string) (*Indexer, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	if prefix == "" {
		prefix = "jobkit-errors"
	}
	return &Indexer{client: client, prefix: prefix}, nil
}

// IndexName returns the daily index a document created at t belongs to.
func (i *Indexer) IndexName(t time.Time) string {
	return i.prefix + "-" + t.UTC().Format("2006.01.02")
}

// Index stores doc under id in the daily index for at. An empty id lets the
// cluster assign one.
func (i *Indexer) Index(ctx context.Context, at time.Time, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Join(ErrIndexFailed, err)
	}

	req := opensearchapi.IndexRequest{
		Index:      i.IndexName(at),
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return errors.Join(ErrIndexFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Join(ErrIndexFailed, fmt.Errorf("status %s: %s", res.Status(), bytes.TrimSpace(msg)))
	}
	return nil
}
