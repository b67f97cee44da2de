package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"brinetank-iot/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaInvoker Lambda Invoke 接口（*lambda.Client 实现）
type LambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaDispatcher 以 Event 方式异步调用 alert 函数，不等待邮件发送
type LambdaDispatcher struct {
	client       LambdaInvoker
	functionName string
}

// NewLambdaDispatcher 创建 Lambda 分发器
func NewLambdaDispatcher(client LambdaInvoker, functionName string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, functionName: functionName}
}

// Dispatch 投递一次触发；Lambda 接受异步调用时返回 202
func (d *LambdaDispatcher) Dispatch(ctx context.Context, trigger models.AlertTrigger) error {
	req, err := NewRequest(trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	out, err := d.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(d.functionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", d.functionName, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("function %s returned error: %s", d.functionName, aws.ToString(out.FunctionError))
	}
	if out.StatusCode != 202 {
		return fmt.Errorf("unexpected status %d from %s", out.StatusCode, d.functionName)
	}
	return nil
}
