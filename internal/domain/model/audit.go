package model

import "time"

// AuditOutcome — результат действия в журнале аудита.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "SUCCESS"
	AuditError   AuditOutcome = "ERROR"
	AuditWarning AuditOutcome = "WARNING"
)

// Действия журнала аудита.
const (
	ActionUploadGrantIssued        = "UPLOAD_GRANT_ISSUED"
	ActionUploadCompleted          = "UPLOAD_COMPLETED"
	ActionUploadCompletionReplayed = "UPLOAD_COMPLETION_REPLAYED"
	ActionUploadCompletionFailed   = "UPLOAD_COMPLETION_FAILED"
	ActionWorkflowTrigger          = "WORKFLOW_TRIGGER"
	ActionStatusTransition         = "STATUS_TRANSITION"
)

// Агенты, записывающие события.
const (
	AgentUploadHandler       = "upload_handler"
	AgentCompletionProcessor = "completion_processor"
	AgentClaimsAPI           = "claims_api"
)

// AuditEntry — неизменяемая запись журнала аудита.
type AuditEntry struct {
	AuditID      string
	ClaimID      string
	TenantID     string
	AgentType    string
	Action       string
	Outcome      AuditOutcome
	ErrorMessage *string
	// Detail — произвольные структурированные данные (сериализуются в JSON)
	Detail    map[string]any
	CreatedAt time.Time
}
