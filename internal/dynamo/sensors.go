package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const attrSensorID = "sensor_id"

// sensorItem 传感器报警表的一条记录
type sensorItem struct {
	SensorID        string   `dynamodbav:"sensor_id"`
	Recipients      []string `dynamodbav:"recipients"`
	ThresholdPct    *float64 `dynamodbav:"threshold_pct"`
	HysteresisPct   *float64 `dynamodbav:"hysteresis_pct"`
	CooldownSeconds *int64   `dynamodbav:"cooldown_seconds"`
	State           string   `dynamodbav:"state"`
	LastAlertTs     string   `dynamodbav:"last_alert_ts"`
	LastSeenTs      string   `dynamodbav:"last_seen_ts"`
	LastLevel       *float64 `dynamodbav:"last_level"`
	Version         int64    `dynamodbav:"version"`
}

// SensorStore 传感器报警配置 / 状态表（version 属性做条件更新）
type SensorStore struct {
	client API
	table  string
	logger *zap.Logger
}

// NewSensorStore 创建传感器报警存储
func NewSensorStore(client API, table string, logger *zap.Logger) *SensorStore {
	return &SensorStore{client: client, table: table, logger: logger}
}

func (s *SensorStore) key(sensorID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrSensorID: &types.AttributeValueMemberS{Value: sensorID},
	}
}

// GetSensorAlert 记录不存在时返回默认状态（Version = 0）
func (s *SensorStore) GetSensorAlert(ctx context.Context, sensorID string) (*models.SensorAlert, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(sensorID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor alert: %w", err)
	}
	if len(out.Item) == 0 {
		return models.NewSensorAlert(sensorID), nil
	}

	var item sensorItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sensor alert: %w", err)
	}

	alert := &models.SensorAlert{
		SensorID:      sensorID,
		Recipients:    item.Recipients,
		ThresholdPct:  item.ThresholdPct,
		HysteresisPct: item.HysteresisPct,
		State:         models.AlertState(item.State),
		LastAlertTs:   item.LastAlertTs,
		LastSeenTs:    item.LastSeenTs,
		LastLevel:     item.LastLevel,
		Version:       item.Version,
	}
	if alert.State == "" {
		alert.State = models.StateNormal
	}
	if item.CooldownSeconds != nil {
		d := time.Duration(*item.CooldownSeconds) * time.Second
		alert.Cooldown = &d
	}
	return alert, nil
}

// SaveSensorState 条件更新状态字段：
// Version == 0 要求记录不存在或尚无 version 属性（人工预置的配置行），否则要求 version 未变
func (s *SensorStore) SaveSensorState(ctx context.Context, state models.SensorAlert) (int64, error) {
	next := state.Version + 1
	u := newUpdate()
	u.set("state", &types.AttributeValueMemberS{Value: string(state.State)})
	u.setOrRemove("threshold_pct", floatAttr(state.ThresholdPct))
	u.setOrRemove("hysteresis_pct", floatAttr(state.HysteresisPct))
	u.setOrRemove("cooldown_seconds", secondsAttr(state.Cooldown))
	u.setOrRemove("last_alert_ts", stringAttr(state.LastAlertTs))
	u.setOrRemove("last_seen_ts", stringAttr(state.LastSeenTs))
	u.setOrRemove("last_level", floatAttr(state.LastLevel))
	u.set("version", numberAttr(next))

	var cond string
	if state.Version == 0 {
		cond = "attribute_not_exists(#pk) OR attribute_not_exists(#version)"
		u.names["#pk"] = attrSensorID
	} else {
		cond = "#version = :expected"
		u.values[":expected"] = numberAttr(state.Version)
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(state.SensorID),
		UpdateExpression:          aws.String(u.expression()),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("failed to save sensor state: %w", err)
	}
	return next, nil
}

// GetRecipients 记录不存在时返回空列表
func (s *SensorStore) GetRecipients(ctx context.Context, sensorID string) ([]string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.key(sensorID),
		ProjectionExpression:     aws.String("#r"),
		ExpressionAttributeNames: map[string]string{"#r": "recipients"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recipients: %w", err)
	}
	if len(out.Item) == 0 {
		return []string{}, nil
	}

	var item sensorItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if item.Recipients == nil {
		return []string{}, nil
	}
	return item.Recipients, nil
}

// UpsertSensorConfig 写入人工配置字段，不修改状态字段
func (s *SensorStore) UpsertSensorConfig(ctx context.Context, cfg models.SensorConfig) error {
	recipients := cfg.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	recipientsAttr, err := attributevalue.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	u := newUpdate()
	u.set("recipients", recipientsAttr)
	u.setOrRemove("threshold_pct", floatAttr(cfg.ThresholdPct))
	u.setOrRemove("hysteresis_pct", floatAttr(cfg.HysteresisPct))
	u.setOrRemove("cooldown_seconds", secondsAttr(cfg.Cooldown))
	u.names["#state"] = "state"
	u.names["#version"] = "version"
	u.values[":normal"] = &types.AttributeValueMemberS{Value: string(models.StateNormal)}
	u.values[":zero"] = numberAttr(0)
	u.values[":one"] = numberAttr(1)
	u.sets = append(u.sets,
		"#state = if_not_exists(#state, :normal)",
		"#version = if_not_exists(#version, :zero) + :one",
	)

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(cfg.SensorID),
		UpdateExpression:          aws.String(u.expression()),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert sensor config: %w", err)
	}

	s.logger.Info("Sensor config saved",
		zap.String("sensor_id", cfg.SensorID),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

// update UpdateExpression 构造器（SET / REMOVE）
type update struct {
	sets    []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdate() *update {
	return &update{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (u *update) set(attr string, v types.AttributeValue) {
	u.names["#"+attr] = attr
	u.values[":"+attr] = v
	u.sets = append(u.sets, fmt.Sprintf("#%s = :%s", attr, attr))
}

func (u *update) setOrRemove(attr string, v types.AttributeValue) {
	if v == nil {
		u.names["#"+attr] = attr
		u.removes = append(u.removes, "#"+attr)
		return
	}
	u.set(attr, v)
}

func (u *update) expression() string {
	expr := "SET " + strings.Join(u.sets, ", ")
	if len(u.removes) > 0 {
		expr += " REMOVE " + strings.Join(u.removes, ", ")
	}
	return expr
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func floatAttr(f *float64) types.AttributeValue {
	if f == nil {
		return nil
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(*f, 'f', -1, 64)}
}

func secondsAttr(d *time.Duration) types.AttributeValue {
	if d == nil {
		return nil
	}
	return numberAttr(int64(*d / time.Second))
}

func stringAttr(s string) types.AttributeValue {
	if s == "" {
		return nil
	}
	return &types.AttributeValueMemberS{Value: s}
}
