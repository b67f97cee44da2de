// Package dynamo 基于 DynamoDB 的存储实现（历史表 / 最新快照表 / 传感器报警表）。
// 历史记录依赖表的 TTL（ttl_epoch）自动过期。
package dynamo

import (
	"context"
	"errors"

	"brinetank-iot/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// API DynamoDB 客户端中用到的方法（*dynamodb.Client 实现）
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Tables 表名
type Tables struct {
	Readings string
	Latest   string
	Sensors  string
}

// NewStores 基于 DynamoDB 的全部存储
func NewStores(client API, tables Tables, logger *zap.Logger) *store.Stores {
	readings := NewReadingStore(client, tables.Readings, tables.Latest, logger)
	return &store.Stores{
		Readings: readings,
		Latest:   readings,
		Sensors:  NewSensorStore(client, tables.Sensors, logger),
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
