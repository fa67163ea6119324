package audit

import "time"

// Event is emitted from domain logic to capture security-relevant actions.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Action    Action    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
}

type Action string

const (
	ActionLogin              Action = "auth.login"
	ActionRefresh            Action = "auth.refresh"
	ActionRefreshReplay      Action = "auth.refresh_replay"
	ActionRevoke             Action = "auth.revoke"
	ActionLogout             Action = "auth.logout"
	ActionAdminCreated       Action = "admin.created"
	ActionAdminUpdated       Action = "admin.updated"
	ActionAdminDeleted       Action = "admin.deleted"
	ActionPasswordChanged    Action = "admin.password_changed"
	ActionExportSubmitted    Action = "datatable.export_submitted"
	ActionExportCompleted    Action = "datatable.export_completed"
	ActionExportFailed       Action = "datatable.export_failed"
	ActionEmailExportSent    Action = "datatable.email_export_sent"
	ActionEmailExportFailure Action = "datatable.email_export_failed"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)
