package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Profile is an owning identity. Admin profiles are tenants; agents belong to
// the admin that created them.
type Profile struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Phone     string    `gorm:"type:varchar(50)" json:"phone"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	CreatedBy *string   `gorm:"type:varchar(36);index" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// TenantSettings is the tenant-scoped configuration row. Zero values fall back
// to engine defaults.
type TenantSettings struct {
	OwnerID            string    `gorm:"primaryKey;type:varchar(36)" json:"owner_id"`
	Timezone           string    `gorm:"type:varchar(64)" json:"timezone"`
	BusinessHoursStart string    `gorm:"type:varchar(5)" json:"business_hours_start"`
	BusinessHoursEnd   string    `gorm:"type:varchar(5)" json:"business_hours_end"`
	AIEnabled          bool      `json:"ai_enabled"`
	AIPrompt           string    `gorm:"type:text" json:"ai_prompt"`
	SLAHoursUrgente    int       `gorm:"column:sla_hours_urgente" json:"sla_hours_urgente"`
	SLAHoursAlta       int       `gorm:"column:sla_hours_alta" json:"sla_hours_alta"`
	SLAHoursMedia      int       `gorm:"column:sla_hours_media" json:"sla_hours_media"`
	SLAHoursBaixa      int       `gorm:"column:sla_hours_baixa" json:"sla_hours_baixa"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TenantSettings) TableName() string {
	return "tenant_settings"
}

// Contact represents a WhatsApp contact owned by a tenant
type Contact struct {
	ID        string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_contacts_owner_phone,priority:1" json:"owner_id"`
	Name      string                      `gorm:"type:varchar(255)" json:"name"`
	Phone     string                      `gorm:"type:varchar(50);not null;uniqueIndex:idx_contacts_owner_phone,priority:2" json:"phone"`
	Email     string                      `gorm:"type:varchar(255)" json:"email"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	BirthDate *time.Time                  `gorm:"type:date" json:"birth_date"`
	Active    bool                        `json:"active"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

const (
	ConversationActive   = "ativo"
	ConversationPending  = "pendente"
	ConversationResolved = "concluido"
)

type Conversation struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID       string    `gorm:"type:varchar(36);not null;index:idx_conversations_owner_status,priority:1" json:"owner_id"`
	ContactID     string    `gorm:"type:varchar(36);not null;index" json:"contact_id"`
	Status        string    `gorm:"type:varchar(20);not null;index:idx_conversations_owner_status,priority:2" json:"status"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	AssignedTo    *string   `gorm:"type:varchar(36)" json:"assigned_to"`
	IsBotActive   bool      `json:"is_bot_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

const (
	SenderContact    = "contact"
	SenderAgent      = "agent"
	SenderAI         = "ai"
	SenderAutomation = "automation"
)

// Message is a transcript entry of a conversation
type Message struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID           string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	ConversationID    string    `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	ContactID         string    `gorm:"type:varchar(36);index" json:"contact_id"`
	SenderType        string    `gorm:"type:varchar(20);not null" json:"sender_type"`
	Body              string    `gorm:"type:text" json:"body"`
	ProviderMessageID string    `gorm:"type:varchar(255);index" json:"provider_message_id"`
	CreatedAt         time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}

const (
	PriorityLow    = "baixa"
	PriorityMedium = "media"
	PriorityHigh   = "alta"
	PriorityUrgent = "urgente"
)

const (
	TicketOpenAI    = "aberto_ia"
	TicketAnalysis  = "em_analise"
	TicketPending   = "pendente"
	TicketResolved  = "concluido"
	TicketCancelled = "cancelado"
)

func ValidTicketStatus(s string) bool {
	switch s {
	case TicketOpenAI, TicketAnalysis, TicketPending, TicketResolved, TicketCancelled:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Ticket struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID     string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_tickets_owner_number,priority:1" json:"owner_id"`
	Number      int        `gorm:"not null;uniqueIndex:idx_tickets_owner_number,priority:2" json:"number"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Priority    string     `gorm:"type:varchar(20);not null" json:"priority"`
	Status      string     `gorm:"type:varchar(20);not null;index" json:"status"`
	SLADeadline time.Time  `gorm:"column:sla_deadline;index" json:"sla_deadline"`
	AssignedTo  *string    `gorm:"type:varchar(36)" json:"assigned_to"`
	ContactID   *string    `gorm:"type:varchar(36)" json:"contact_id"`
	CreatedBy   string     `gorm:"type:varchar(36)" json:"created_by"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// TicketHistory is an append-only transition record.
type TicketHistory struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TicketID      string    `gorm:"type:varchar(36);not null;index" json:"ticket_id"`
	OwnerID       string    `gorm:"type:varchar(36);not null" json:"owner_id"`
	OldStatus     string    `gorm:"type:varchar(20)" json:"old_status"`
	NewStatus     string    `gorm:"type:varchar(20)" json:"new_status"`
	OldPriority   string    `gorm:"type:varchar(20)" json:"old_priority"`
	NewPriority   string    `gorm:"type:varchar(20)" json:"new_priority"`
	OldAssignedTo *string   `gorm:"type:varchar(36)" json:"old_assigned_to"`
	NewAssignedTo *string   `gorm:"type:varchar(36)" json:"new_assigned_to"`
	Note          string    `gorm:"type:text" json:"note"`
	CreatedBy     string    `gorm:"type:varchar(36)" json:"created_by"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (TicketHistory) TableName() string {
	return "ticket_history"
}

func (h *TicketHistory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&h.ID)
	return nil
}

// AutomationRule represents a trigger configured by a tenant admin
type AutomationRule struct {
	ID            string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID       string         `gorm:"type:varchar(36);not null;index:idx_rules_owner_type,priority:1" json:"owner_id"`
	Name          string         `gorm:"type:varchar(255);not null" json:"name"`
	Active        bool           `json:"active"`
	TriggerType   string         `gorm:"type:varchar(50);not null;index:idx_rules_owner_type,priority:2" json:"trigger_type"`
	TriggerConfig datatypes.JSON `json:"trigger_config"`
	TemplateID    *string        `gorm:"type:varchar(36)" json:"template_id"`
	Message       string         `gorm:"type:text" json:"message"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

func (r *AutomationRule) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

type MessageTemplate struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MessageTemplate) TableName() string {
	return "message_templates"
}

func (m *MessageTemplate) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

const (
	LogSuccess = "success"
	LogError   = "error"
)

const (
	OutcomeSent               = "sent"
	OutcomeProviderError      = "provider_error"
	OutcomeConfigurationError = "configuration_error"
)

// AutomationLog is a write-once ledger row. DedupKey carries the uniqueness
// constraint that makes concurrent runs collapse into one row per event.
type AutomationLog struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID           string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	RuleID            string    `gorm:"type:varchar(36);not null;index:idx_logs_rule_created,priority:1" json:"rule_id"`
	TriggerType       string    `gorm:"type:varchar(50)" json:"trigger_type"`
	ContactID         *string   `gorm:"type:varchar(36);index" json:"contact_id"`
	ConversationID    *string   `gorm:"type:varchar(36);index" json:"conversation_id"`
	TicketID          *string   `gorm:"type:varchar(36);index" json:"ticket_id"`
	Status            string    `gorm:"type:varchar(20);not null" json:"status"`
	Outcome           string    `gorm:"type:varchar(30);not null" json:"outcome"`
	Details           string    `gorm:"type:text" json:"details"`
	ProviderMessageID string    `gorm:"type:varchar(255)" json:"provider_message_id"`
	DedupKey          *string   `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	CreatedAt         time.Time `gorm:"index:idx_logs_rule_created,priority:2" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

func (l *AutomationLog) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return nil
}

const EventStatusChange = "status_change"

// NotificationSetting maps a ticket event to the people that must be told.
// Nil StatusFrom/StatusTo match any status.
type NotificationSetting struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID         string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	Event           string    `gorm:"type:varchar(50);not null" json:"event"`
	StatusFrom      *string   `gorm:"type:varchar(20)" json:"status_from"`
	StatusTo        *string   `gorm:"type:varchar(20)" json:"status_to"`
	NotifyCreator   bool      `json:"notify_creator"`
	NotifyAssignee  bool      `json:"notify_assignee"`
	MessageTemplate string    `gorm:"type:text" json:"message_template"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (NotificationSetting) TableName() string {
	return "notification_settings"
}

func (n *NotificationSetting) BeforeCreate(tx *gorm.DB) error {
	ensureID(&n.ID)
	return nil
}

const (
	IntegrationWhatsApp = "whatsapp"
	IntegrationOpenAI   = "openai"
	IntegrationSMTP     = "smtp"
	IntegrationWebhook  = "webhook"
)

type IntegrationCredential struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID        string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_credentials_owner_type,priority:1" json:"owner_id"`
	Type           string         `gorm:"type:varchar(20);not null;uniqueIndex:idx_credentials_owner_type,priority:2" json:"type"`
	Config         datatypes.JSON `json:"-"`
	Active         bool           `json:"active"`
	LastTestStatus string         `gorm:"type:varchar(20)" json:"last_test_status"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IntegrationCredential) TableName() string {
	return "integration_credentials"
}

func (c *IntegrationCredential) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&Profile{},
		&TenantSettings{},
		&Contact{},
		&Conversation{},
		&Message{},
		&Ticket{},
		&TicketHistory{},
		&AutomationRule{},
		&MessageTemplate{},
		&AutomationLog{},
		&NotificationSetting{},
		&IntegrationCredential{},
	}
}
