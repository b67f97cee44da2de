package dynamo

import (
	"context"
	"fmt"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 历史表主键：device（分区键）+ ts_id（排序键，"<ts>#<id>"，同一 ts 重复上报也不会覆盖）
const (
	attrDevice = "device"
	attrTsID   = "ts_id"
)

// 数值字段按 N 类型写入，保留十进制原值
var decimalAttrs = []string{"distance_cm", "distance_cm_filtered", "percent_full", "temperature_c"}

// readingItem 历史 / 快照的标量字段
type readingItem struct {
	Device   string `dynamodbav:"device"`
	TsID     string `dynamodbav:"ts_id,omitempty"`
	ID       string `dynamodbav:"id,omitempty"`
	Ts       string `dynamodbav:"ts"`
	Sensor   string `dynamodbav:"sensor"`
	Unit     string `dynamodbav:"unit"`
	Status   int    `dynamodbav:"status"`
	TTLEpoch int64  `dynamodbav:"ttl_epoch,omitempty"`
}

// ReadingStore 历史表 + 最新快照表
type ReadingStore struct {
	client       API
	readingTable string
	latestTable  string
	logger       *zap.Logger
}

// NewReadingStore 创建遥测存储
func NewReadingStore(client API, readingTable, latestTable string, logger *zap.Logger) *ReadingStore {
	return &ReadingStore{
		client:       client,
		readingTable: readingTable,
		latestTable:  latestTable,
		logger:       logger,
	}
}

// PutReading 追加一条历史记录
func (s *ReadingStore) PutReading(ctx context.Context, reading models.Reading) error {
	item, err := attributevalue.MarshalMap(readingItem{
		Device:   reading.Device,
		TsID:     reading.Ts + "#" + reading.ID,
		ID:       reading.ID,
		Ts:       reading.Ts,
		Sensor:   reading.Sensor,
		Unit:     reading.Unit,
		Status:   reading.Status,
		TTLEpoch: reading.TTLEpoch,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	putDecimals(item, reading.DistanceCm, reading.DistanceCmFiltered, reading.PercentFull, reading.TemperatureC)

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.readingTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store reading in dynamodb: %w", err)
	}
	return nil
}

// ListReadings 按 ts 升序查询（自动翻页）
func (s *ReadingStore) ListReadings(ctx context.Context, device string, q store.ReadingQuery) ([]models.Reading, error) {
	keyCond := "#device = :device"
	values := map[string]types.AttributeValue{
		":device": &types.AttributeValueMemberS{Value: device},
	}
	switch {
	case q.From != "" && q.To != "":
		keyCond += " AND #tsid BETWEEN :from AND :to"
		values[":from"] = &types.AttributeValueMemberS{Value: q.From}
		values[":to"] = &types.AttributeValueMemberS{Value: upperBound(q.To)}
	case q.From != "":
		keyCond += " AND #tsid >= :from"
		values[":from"] = &types.AttributeValueMemberS{Value: q.From}
	case q.To != "":
		keyCond += " AND #tsid <= :to"
		values[":to"] = &types.AttributeValueMemberS{Value: upperBound(q.To)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.readingTable),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  map[string]string{"#device": attrDevice},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}
	if q.From != "" || q.To != "" {
		input.ExpressionAttributeNames["#tsid"] = attrTsID
	}

	readings := []models.Reading{}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query readings: %w", err)
		}
		for _, item := range out.Items {
			reading, err := decodeReading(item)
			if err != nil {
				return nil, err
			}
			readings = append(readings, reading)
			if q.Limit > 0 && len(readings) >= q.Limit {
				return readings, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return readings, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// PutLatest 覆盖写最新快照
func (s *ReadingStore) PutLatest(ctx context.Context, snapshot models.LatestSnapshot) error {
	item, err := attributevalue.MarshalMap(readingItem{
		Device: snapshot.Device,
		Ts:     snapshot.Ts,
		Sensor: snapshot.Sensor,
		Unit:   snapshot.Unit,
		Status: snapshot.Status,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal latest snapshot: %w", err)
	}
	putDecimals(item, snapshot.DistanceCm, snapshot.DistanceCmFiltered, snapshot.PercentFull, snapshot.TemperatureC)

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.latestTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store latest snapshot in dynamodb: %w", err)
	}
	return nil
}

// GetLatest 查询设备最新快照，不存在时返回 store.ErrNotFound
func (s *ReadingStore) GetLatest(ctx context.Context, device string) (*models.LatestSnapshot, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.latestTable),
		Key: map[string]types.AttributeValue{
			attrDevice: &types.AttributeValueMemberS{Value: device},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}

	reading, err := decodeReading(out.Item)
	if err != nil {
		return nil, err
	}
	snapshot := reading.Snapshot()
	return &snapshot, nil
}

func decodeReading(item map[string]types.AttributeValue) (models.Reading, error) {
	var ri readingItem
	if err := attributevalue.UnmarshalMap(item, &ri); err != nil {
		return models.Reading{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	reading := models.Reading{
		ID:       ri.ID,
		Device:   ri.Device,
		Ts:       ri.Ts,
		Sensor:   ri.Sensor,
		Unit:     ri.Unit,
		Status:   ri.Status,
		TTLEpoch: ri.TTLEpoch,
	}
	var err error
	if reading.DistanceCm, err = getDecimal(item, "distance_cm"); err != nil {
		return reading, err
	}
	if reading.DistanceCmFiltered, err = getDecimal(item, "distance_cm_filtered"); err != nil {
		return reading, err
	}
	if reading.PercentFull, err = getDecimal(item, "percent_full"); err != nil {
		return reading, err
	}
	if reading.TemperatureC, err = getDecimal(item, "temperature_c"); err != nil {
		return reading, err
	}
	return reading, nil
}

// putDecimals 按 decimalAttrs 的顺序写入，nil 不写
func putDecimals(item map[string]types.AttributeValue, values ...*decimal.Decimal) {
	for i, v := range values {
		if v == nil {
			continue
		}
		item[decimalAttrs[i]] = &types.AttributeValueMemberN{Value: v.String()}
	}
}

func getDecimal(item map[string]types.AttributeValue, name string) (*decimal.Decimal, error) {
	av, ok := item[name]
	if !ok {
		return nil, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return nil, nil
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid number in %s: %w", name, err)
	}
	return &d, nil
}

// upperBound 排序键上界：ts == to 的所有记录都在 "<to>#..." 之下
func upperBound(to string) string {
	return to + "#\uffff"
}
