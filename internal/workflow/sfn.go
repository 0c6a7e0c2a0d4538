package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

// StartExecutionAPI — подмножество клиента Step Functions.
type StartExecutionAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// SFNTrigger запускает state machine с именем исполнения, равным claim id:
// Step Functions отклоняет второе исполнение с тем же именем.
type SFNTrigger struct {
	api             StartExecutionAPI
	stateMachineARN string
}

// NewSFNTrigger создаёт запуск через Step Functions.
func NewSFNTrigger(api StartExecutionAPI, stateMachineARN string) *SFNTrigger {
	return &SFNTrigger{api: api, stateMachineARN: stateMachineARN}
}

// ExecutionARN строит ARN исполнения по ARN state machine и имени:
// arn:aws:states:region:account:stateMachine:Name → ...:execution:Name:exec.
func ExecutionARN(stateMachineARN, name string) string {
	prefix, machine, ok := strings.Cut(stateMachineARN, ":stateMachine:")
	if !ok {
		return ""
	}
	return prefix + ":execution:" + machine + ":" + name
}

// Start реализует Trigger.
func (s *SFNTrigger) Start(ctx context.Context, req Request) (Execution, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Execution{}, &PermanentError{Err: fmt.Errorf("ошибка сериализации запроса: %w", err)}
	}

	out, err := s.api.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Name:            aws.String(req.ClaimID),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		var exists *types.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return Execution{ID: ExecutionARN(s.stateMachineARN, req.ClaimID), AlreadyStarted: true}, nil
		}
		if isPermanentSFNError(err) {
			return Execution{}, &PermanentError{Err: fmt.Errorf("ошибка запуска Step Functions: %w", err)}
		}
		return Execution{}, fmt.Errorf("ошибка запуска Step Functions: %w", err)
	}

	return Execution{ID: aws.ToString(out.ExecutionArn)}, nil
}

func isPermanentSFNError(err error) bool {
	var (
		invalidARN   *types.InvalidArn
		invalidName  *types.InvalidName
		invalidInput *types.InvalidExecutionInput
		notFound     *types.StateMachineDoesNotExist
		deleting     *types.StateMachineDeleting
	)
	return errors.As(err, &invalidARN) || errors.As(err, &invalidName) ||
		errors.As(err, &invalidInput) || errors.As(err, &notFound) || errors.As(err, &deleting)
}

var _ Trigger = (*SFNTrigger)(nil)
