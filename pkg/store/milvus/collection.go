package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/fractal/pkg/window"
)

const (
	fieldWindowID      = "window_id"
	fieldEmbedding     = "embedding"
	fieldSymbol        = "symbol"
	fieldTimeframe     = "timeframe"
	fieldStartIndex    = "start_index"
	fieldEndIndex      = "end_index"
	fieldEndTime       = "end_time"
	fieldOutcomeTime   = "outcome_time"
	fieldForwardReturn = "forward_return"
)

var outputFields = []string{
	fieldWindowID, fieldSymbol, fieldTimeframe, fieldStartIndex, fieldEndIndex,
	fieldEndTime, fieldOutcomeTime, fieldForwardReturn,
}

// CollectionName returns the collection holding windows of one spec. The embedding dimension
// equals the window length, so every spec gets its own collection.
func CollectionName(spec window.Spec) string {
	return fmt.Sprintf("analog_windows_L%d_H%d", spec.Length, spec.Horizon)
}

func schema(spec window.Spec) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionName(spec),
		Description:    fmt.Sprintf("Normalized return windows %s for analog search", spec),
		Fields: []*entity.Field{
			{
				Name:       fieldWindowID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(spec.Length),
				},
			},
			{
				Name:     fieldSymbol,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     fieldTimeframe,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8",
				},
			},
			{Name: fieldStartIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldEndIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldEndTime, DataType: entity.FieldTypeInt64},
			{Name: fieldOutcomeTime, DataType: entity.FieldTypeInt64},
			{Name: fieldForwardReturn, DataType: entity.FieldTypeDouble},
		},
	}
}

// EnsureCollection creates, indexes and loads the collection of spec when it does not exist
func (c *Client) EnsureCollection(ctx context.Context, spec window.Spec, shards, nlist int) error {
	name := CollectionName(spec)
	exists, err := c.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := c.conn.CreateCollection(ctx, schema(spec), int32(shards)); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		if err := c.CreateIndex(ctx, name, nlist); err != nil {
			return fmt.Errorf("failed to index collection %s: %w", name, err)
		}
	}
	return c.LoadCollection(ctx, name)
}
