package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/config"
)

const defaultSearchSize = 20

// AnnotationDocument is the indexed form of one mirrored status note
type AnnotationDocument struct {
	TrackingID      string    `json:"trackingId"`
	Text            string    `json:"text"`
	Author          string    `json:"author"`
	Timestamp       time.Time `json:"timestamp"`
	TransactionHash string    `json:"transactionHash,omitempty"`
}

// DocumentID keys the document by transaction hash so reindexing the same
// note overwrites rather than duplicates it.
func (d AnnotationDocument) DocumentID() string {
	if d.TransactionHash != "" {
		return d.TransactionHash
	}
	return d.TrackingID + ":" + d.Timestamp.UTC().Format(time.RFC3339Nano)
}

// AnnotationHit is one search result
type AnnotationHit struct {
	AnnotationDocument
	Score float64 `json:"score"`
}

const annotationMapping = `{
  "mappings": {
    "properties": {
      "trackingId":      {"type": "keyword"},
      "text":            {"type": "text"},
      "author":          {"type": "keyword"},
      "timestamp":       {"type": "date"},
      "transactionHash": {"type": "keyword"}
    }
  }
}`

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

func (c *ElasticClient) indexName() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// EnsureIndex creates the annotation index with its mapping when missing
func (c *ElasticClient) EnsureIndex(ctx context.Context) error {
	indexName := c.indexName()

	exists, err := esapi.IndicesExistsRequest{Index: []string{indexName}}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to check Elasticsearch index")
	}
	exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	res, err := esapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(annotationMapping),
	}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to create Elasticsearch index")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index create", res.Body)
	}

	log.Info().Str("index", indexName).Msg("Created annotation index")
	return nil
}

// IndexAnnotation indexes one status note
func (c *ElasticClient) IndexAnnotation(ctx context.Context, doc AnnotationDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal annotation document")
	}

	req := esapi.IndexRequest{
		Index:      c.indexName(),
		DocumentID: doc.DocumentID(),
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index", res.Body)
	}

	log.Debug().Str("tracking_id", doc.TrackingID).Str("tx_hash", doc.TransactionHash).Msg("Annotation indexed")
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64            `json:"_score"`
			Source AnnotationDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchAnnotations runs a full-text query over note text, tracking id and
// author. size <= 0 uses the default page size.
func (c *ElasticClient) SearchAnnotations(ctx context.Context, query string, size int) ([]AnnotationHit, error) {
	if size <= 0 {
		size = defaultSearchSize
	}

	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"text", "trackingId", "author"},
			},
		},
	}

	queryJSON, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.indexName()},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search", res.Body)
	}

	var result searchResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits := make([]AnnotationHit, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		hits = append(hits, AnnotationHit{AnnotationDocument: h.Source, Score: h.Score})
	}

	return hits, nil
}

func responseError(op string, body io.Reader) error {
	var e map[string]interface{}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
