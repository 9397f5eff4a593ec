package database

import "time"

// AuditEvent is one auth or session lifecycle event. Kept append-only;
// old rows are pruned by the maintenance scheduler.
type AuditEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind       string    `gorm:"not null;index" json:"kind"`
	Session    string    `gorm:"index" json:"session,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Event kinds recorded by the handlers.
const (
	EventLogin            = "login"
	EventLoginFailed      = "login_failed"
	EventLoginRateLimited = "login_rate_limited"
	EventTokenRefreshed   = "token_refreshed"
	EventSessionCreated   = "session_created"
	EventSessionDestroyed = "session_destroyed"
	EventBridgeAttached   = "bridge_attached"
	EventBridgeDetached   = "bridge_detached"
)
