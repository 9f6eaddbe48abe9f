package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// InvokeAPI is the slice of the Lambda client used here, extracted so
// tests can substitute a fake.
type InvokeAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

type Result struct {
	ProjectID  int    `json:"project_id"`
	StatusCode int32  `json:"status_code"`
	Response   string `json:"response"`
}

// Trigger invokes the annotation-export Lambda function synchronously.
type Trigger struct {
	client       InvokeAPI
	functionName string
}

func NewTrigger(cfg aws.Config, functionName string) *Trigger {
	return &Trigger{
		client:       lambda.NewFromConfig(cfg),
		functionName: functionName,
	}
}

func NewTriggerWithAPI(client InvokeAPI, functionName string) *Trigger {
	return &Trigger{client: client, functionName: functionName}
}

// TriggerExport runs the export function for one Label Studio project
// and waits for its response.
func (t *Trigger) TriggerExport(ctx context.Context, projectID int) (*Result, error) {
	payload, err := json.Marshal(map[string]int{"project_id": projectID})
	if err != nil {
		return nil, err
	}

	slog.Info("triggering label export", "function", t.functionName, "project_id", projectID)

	out, err := t.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(t.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke export function %s: %w", t.functionName, err)
	}

	response := string(out.Payload)
	if out.FunctionError != nil {
		return nil, fmt.Errorf("export function %s failed: %s: %s", t.functionName, *out.FunctionError, response)
	}
	if out.StatusCode != 200 {
		return nil, fmt.Errorf("export function %s returned status %d: %s", t.functionName, out.StatusCode, response)
	}

	slog.Info("label export completed", "function", t.functionName, "project_id", projectID)
	return &Result{
		ProjectID:  projectID,
		StatusCode: out.StatusCode,
		Response:   response,
	}, nil
}
