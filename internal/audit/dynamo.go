package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bigkaa/claimiq/internal/domain/model"
)

// ErrDuplicateEntry — запись с таким ключом уже есть (повтор добавления).
var ErrDuplicateEntry = errors.New("запись аудита уже существует")

// PutItemAPI — подмножество клиента DynamoDB, используемое журналом.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// dynamoItem — схема записи: PK по tenant и претензии, SK по времени и id,
// чтобы история претензии читалась одним Query в хронологическом порядке.
type dynamoItem struct {
	PK           string  `dynamodbav:"PK"`
	SK           string  `dynamodbav:"SK"`
	AuditID      string  `dynamodbav:"audit_id"`
	ClaimID      string  `dynamodbav:"claim_id"`
	TenantID     string  `dynamodbav:"tenant_id"`
	AgentType    string  `dynamodbav:"agent_type"`
	Action       string  `dynamodbav:"action"`
	Status       string  `dynamodbav:"status"`
	ErrorMessage *string `dynamodbav:"error_message,omitempty"`
	Detail       string  `dynamodbav:"detail,omitempty"`
	Timestamp    string  `dynamodbav:"timestamp"`
}

// DynamoSink пишет записи в таблицу DynamoDB условным PutItem.
type DynamoSink struct {
	db    PutItemAPI
	table string
}

// NewDynamoSink создаёт sink для таблицы.
func NewDynamoSink(db PutItemAPI, table string) *DynamoSink {
	return &DynamoSink{db: db, table: table}
}

// sortableTime — фиксированная ширина дробной части для лексикографической сортировки SK.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// MakeKeys возвращает ключи записи.
func MakeKeys(tenantID, claimID string, at time.Time, auditID string) (pk, sk string) {
	return fmt.Sprintf("TENANT#%s#CLAIM#%s", tenantID, claimID),
		fmt.Sprintf("TS#%s#%s", at.UTC().Format(sortableTime), auditID)
}

// Append реализует Sink.
func (s *DynamoSink) Append(ctx context.Context, e *model.AuditEntry) error {
	pk, sk := MakeKeys(e.TenantID, e.ClaimID, e.CreatedAt, e.AuditID)

	item := dynamoItem{
		PK:           pk,
		SK:           sk,
		AuditID:      e.AuditID,
		ClaimID:      e.ClaimID,
		TenantID:     e.TenantID,
		AgentType:    e.AgentType,
		Action:       e.Action,
		Status:       string(e.Outcome),
		ErrorMessage: e.ErrorMessage,
		Timestamp:    e.CreatedAt.UTC().Format(sortableTime),
	}
	if len(e.Detail) > 0 {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("ошибка сериализации detail: %w", err)
		}
		item.Detail = string(detail)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи аудита: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.AuditID)
		}
		return fmt.Errorf("ошибка записи аудита в DynamoDB: %w", err)
	}
	return nil
}
