package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type avMap = map[string]types.AttributeValue

// fakeDynamo 内存表，只理解本包用到的表达式
type fakeDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]avMap
	keys     map[string][]string // 表名 -> 主键属性（分区键[, 排序键]）
	pageSize int
	queries  int
	err      error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables: map[string]map[string]avMap{},
		keys: map[string][]string{
			"readings": {attrDevice, attrTsID},
			"latest":   {attrDevice},
			"sensors":  {attrSensorID},
		},
	}
}

func (f *fakeDynamo) keyOf(table string, it avMap) string {
	parts := []string{}
	for _, k := range f.keys[table] {
		parts = append(parts, stringValue(it[k]))
	}
	return strings.Join(parts, "|")
}

func (f *fakeDynamo) table(name string) map[string]avMap {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]avMap{}
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	name := aws.ToString(in.TableName)
	f.table(name)[f.keyOf(name, in.Item)] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	name := aws.ToString(in.TableName)
	it, ok := f.table(name)[f.keyOf(name, in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	name := aws.ToString(in.TableName)
	key := f.keyOf(name, in.Key)
	current, exists := f.table(name)[key]

	if cond := aws.ToString(in.ConditionExpression); cond != "" {
		if !checkCondition(cond, current, exists, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	next := copyItem(current)
	if next == nil {
		next = avMap{}
	}
	for k, v := range in.Key {
		next[k] = v
	}
	expr := aws.ToString(in.UpdateExpression)
	setPart, removePart := expr, ""
	if i := strings.Index(expr, " REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len(" REMOVE "):]
	}
	for _, clause := range splitTopLevel(strings.TrimPrefix(setPart, "SET ")) {
		lhs, rhs, _ := strings.Cut(clause, " = ")
		attr := in.ExpressionAttributeNames[strings.TrimSpace(lhs)]
		v, err := evalOperand(strings.TrimSpace(rhs), current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		next[attr] = v
	}
	if removePart != "" {
		for _, ref := range splitTopLevel(removePart) {
			delete(next, in.ExpressionAttributeNames[strings.TrimSpace(ref)])
		}
	}
	f.table(name)[key] = next
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.queries++
	name := aws.ToString(in.TableName)
	values := in.ExpressionAttributeValues
	cond := aws.ToString(in.KeyConditionExpression)
	device := stringValue(values[":device"])

	var matched []avMap
	for _, it := range f.table(name) {
		if stringValue(it[attrDevice]) != device {
			continue
		}
		sk := stringValue(it[attrTsID])
		if from, ok := values[":from"]; ok && sk < stringValue(from) {
			continue
		}
		if to, ok := values[":to"]; ok && strings.Contains(cond, ":to") && sk > stringValue(to) {
			continue
		}
		if in.ExclusiveStartKey != nil && sk <= stringValue(in.ExclusiveStartKey[attrTsID]) {
			continue
		}
		matched = append(matched, copyItem(it))
	}
	sort.Slice(matched, func(i, j int) bool {
		return stringValue(matched[i][attrTsID]) < stringValue(matched[j][attrTsID])
	})

	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && len(matched) > f.pageSize {
		matched = matched[:f.pageSize]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = avMap{attrDevice: last[attrDevice], attrTsID: last[attrTsID]}
	}
	out.Items = matched
	return out, nil
}

func (f *fakeDynamo) get(table, key string) avMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table(table)[key]
}

func checkCondition(cond string, current avMap, exists bool, names map[string]string, values avMap) bool {
	if lhs, rhs, ok := strings.Cut(cond, " OR "); ok {
		return checkCondition(strings.TrimSpace(lhs), current, exists, names, values) ||
			checkCondition(strings.TrimSpace(rhs), current, exists, names, values)
	}
	if strings.HasPrefix(cond, "attribute_not_exists(") {
		if !exists {
			return true
		}
		ref := strings.TrimSuffix(strings.TrimPrefix(cond, "attribute_not_exists("), ")")
		_, ok := current[names[strings.TrimSpace(ref)]]
		return !ok
	}
	lhs, rhs, ok := strings.Cut(cond, " = ")
	if !ok || !exists {
		return false
	}
	return numberValue(current[names[strings.TrimSpace(lhs)]]) == numberValue(values[strings.TrimSpace(rhs)])
}

func evalOperand(expr string, current avMap, names map[string]string, values avMap) (types.AttributeValue, error) {
	if lhs, rhs, ok := strings.Cut(expr, " + "); ok {
		a, err := evalOperand(strings.TrimSpace(lhs), current, names, values)
		if err != nil {
			return nil, err
		}
		b, err := evalOperand(strings.TrimSpace(rhs), current, names, values)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(numberValue(a)+numberValue(b), 10)}, nil
	}
	if strings.HasPrefix(expr, "if_not_exists(") {
		args := splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(expr, "if_not_exists("), ")"))
		if v, ok := current[names[strings.TrimSpace(args[0])]]; ok {
			return v, nil
		}
		return values[strings.TrimSpace(args[1])], nil
	}
	if v, ok := values[expr]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("fake dynamo: unsupported operand %q", expr)
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func copyItem(in avMap) avMap {
	if in == nil {
		return nil
	}
	out := make(avMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringValue(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numberValue(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}
