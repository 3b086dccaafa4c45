// Package milvus stores window vectors in Milvus and serves analog searches from them.
package milvus

import (
	"context"
	"fmt"
	"math"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/fractal/pkg/window"
)

// Client manages Milvus connections
type Client struct {
	conn   client.Client
	addr   string
	metric window.Metric
}

// Config holds Milvus connection configuration
type Config struct {
	Address  string `yaml:"address" default:"localhost:19530"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Shards   int    `yaml:"shards" default:"2" validate:"gte=1"`
	NList    int    `yaml:"nlist" default:"128" validate:"gte=1"`
	NProbe   int    `yaml:"nprobe" default:"16" validate:"gte=1"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Address: "localhost:19530",
		Shards:  2,
		NList:   128,
		NProbe:  16,
	}
}

// NewClient creates a new Milvus client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	conf := client.Config{Address: cfg.Address}
	if cfg.Username != "" && cfg.Password != "" {
		conf.Username = cfg.Username
		conf.Password = cfg.Password
	}

	conn, err := client.NewClient(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", cfg.Address, err)
	}

	return &Client{
		conn: conn,
		addr: cfg.Address,
	}, nil
}

// Close closes the Milvus connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// WithMetric selects the similarity metric of new indexes and searches. Collections indexed
// under another metric must be dropped and reindexed.
func (c *Client) WithMetric(m window.Metric) *Client {
	c.metric = m
	return c
}

// MetricType maps a window metric onto the Milvus metric that ranks the same way.
// Milvus L2 scores are squared distances.
func MetricType(m window.Metric) entity.MetricType {
	if m == window.MetricEuclidean {
		return entity.L2
	}
	return entity.COSINE
}

// Similarity converts a Milvus score under metric m into the in-memory similarity
func Similarity(m window.Metric, score float32) float64 {
	if m == window.MetricEuclidean {
		return window.DistanceSimilarity(math.Sqrt(math.Max(0, float64(score))))
	}
	return float64(score)
}

// Address returns the server address
func (c *Client) Address() string {
	return c.addr
}

// HasCollection checks if a collection exists
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	return c.conn.HasCollection(ctx, name)
}

// CreateIndex creates an IVF_FLAT index on the embedding field under the client metric
func (c *Client) CreateIndex(ctx context.Context, collectionName string, nlist int) error {
	idx, err := entity.NewIndexIvfFlat(MetricType(c.metric), nlist)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return c.conn.CreateIndex(ctx, collectionName, fieldEmbedding, idx, false)
}

// LoadCollection loads a collection into memory
func (c *Client) LoadCollection(ctx context.Context, collectionName string) error {
	return c.conn.LoadCollection(ctx, collectionName, false)
}

// DropCollection drops a collection
func (c *Client) DropCollection(ctx context.Context, collectionName string) error {
	return c.conn.DropCollection(ctx, collectionName)
}

// Flush flushes the collection to ensure data persistence
func (c *Client) Flush(ctx context.Context, collectionName string) error {
	return c.conn.Flush(ctx, collectionName, false)
}
