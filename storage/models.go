// Package storage implements C2: typed access to the tenant-bound relational
// store. Schema ownership lives in migrations/ (goose SQL); these structs
// are GORM's read/write view of that schema.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the tenant root; every other table carries WorkspaceID.
type Workspace struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName string
	PlanTier    string
	Vertical    string // food_service | real_estate | personal_services
	Settings    []byte `gorm:"type:bytea"` // encrypted JSON: integration tokens, calendar id, business hours
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Workspace) TableName() string { return "workspaces" }

type Channel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_channels_workspace"`
	DisplayPhone string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Channel) TableName() string { return "channels" }

type Contact struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_contacts_workspace"`
	Phone       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Contact) TableName() string { return "contacts" }

type Conversation struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID      uuid.UUID `gorm:"type:uuid;index:idx_conversations_workspace"`
	ChannelID        uuid.UUID `gorm:"type:uuid"`
	ContactID        uuid.UUID `gorm:"type:uuid"`
	Status           string    // open | closed
	LastMessageAt    time.Time
	TotalMessages    int
	LastMessageText  string
	LastMessageSender string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Conversation) TableName() string { return "conversations" }

// ConversationSlots is the mutable orchestrator state. Exactly one
// currently-latest row exists per conversation: updates happen in place
// rather than inserting new rows per turn.
type ConversationSlots struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID    uuid.UUID `gorm:"type:uuid;index:idx_slots_workspace"`
	SlotsJSON      []byte    `gorm:"type:jsonb"`
	Objective      string
	Greeted        bool
	Attempts       int
	LastAction     string
	UpdatedAt      time.Time
}

func (ConversationSlots) TableName() string { return "conversation_slots" }

type Message struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID       uuid.UUID `gorm:"type:uuid;index:idx_messages_workspace"`
	ConversationID    uuid.UUID `gorm:"type:uuid;index:idx_messages_conversation"`
	Role              string    // user | assistant | system
	Direction         string    // inbound | outbound
	MessageType       string
	ProviderMessageID *string
	ContentText       string
	MediaURL          string
	MetadataJSON      []byte `gorm:"type:jsonb"`
	CreatedAt         time.Time
}

func (Message) TableName() string { return "messages" }

type File struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_files_workspace"`
	StorageURI  string
	Filename    string
	MimeType    string
	SHA256      string
	Bytes       int64
	Status      string // uploaded | processing | processed | failed | deleted
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
	DeletedAt   *time.Time
	PurgeAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (File) TableName() string { return "files" }

type Document struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_documents_workspace"`
	FileID     uuid.UUID `gorm:"type:uuid"`
	Title      string
	Language   string
	TokenCount int
	NeedsOCR   bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Document) TableName() string { return "documents" }

type DocumentRevision struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID   uuid.UUID `gorm:"type:uuid;index:idx_revisions_document"`
	Revision     int
	Content      string
	MetadataJSON []byte `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

func (DocumentRevision) TableName() string { return "document_revisions" }

type Chunk struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_chunks_workspace"`
	DocumentID  uuid.UUID `gorm:"type:uuid;index:idx_chunks_document"`
	RevisionID  uuid.UUID `gorm:"type:uuid"`
	Position    int
	Text        string
	MetaJSON    []byte `gorm:"type:jsonb"` // category, price, city, operation, ...
	TSV         string `gorm:"column:tsv"` // precomputed lexical index, maintained by migration trigger
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

func (Chunk) TableName() string { return "chunks" }

// ChunkEmbedding holds the dense vector for a chunk. The Vector field is
// populated/queried through raw SQL (pgvector `<=>` / sqlite-vec `vec0`); GORM
// only carries identity columns for this table, per retrieval.VectorIndex.
type ChunkEmbedding struct {
	ChunkID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_embeddings_workspace"`
	DocumentID  uuid.UUID `gorm:"type:uuid"`
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

func (ChunkEmbedding) TableName() string { return "chunk_embeddings" }

type ProcessingJob struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID        uuid.UUID `gorm:"type:uuid;index:idx_jobs_workspace"`
	DocumentID         uuid.UUID `gorm:"type:uuid"`
	JobType            string    // extract | chunk | embed
	Status             string    // pending | processing | completed | retry | failed | paused
	Retries            int
	MaxRetries         int
	NextRunAt          time.Time
	BackoffBaseSeconds float64
	BackoffFactor      float64
	JitterSeconds      float64
	ExternalKey        *string // unique per job_type, partial index — see migrations
	Priority           int
	LastError          string
	Paused             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ProcessingJob) TableName() string { return "processing_jobs" }

type ProcessingJobDLQ struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID       uuid.UUID `gorm:"type:uuid"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_dlq_workspace"`
	JobType     string
	ExternalKey *string
	LastError   string
	Retries     int
	MovedAt     time.Time
}

func (ProcessingJobDLQ) TableName() string { return "processing_job_dlq" }

type ActionExecution struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID    uuid.UUID `gorm:"type:uuid;index:idx_actions_workspace"`
	ConversationID uuid.UUID `gorm:"type:uuid"`
	ActionName     string
	IdempotencyKey string // unique with workspace — partial index, see migrations
	Status         string // processing | success | failed | cancelled
	Summary        string
	DetailsJSON    []byte `gorm:"type:jsonb"` // includes payload fingerprint
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

func (ActionExecution) TableName() string { return "action_executions" }

type Order struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID     uuid.UUID `gorm:"type:uuid;index:idx_orders_workspace"`
	ActionExecutionID uuid.UUID `gorm:"type:uuid"`
	ItemsJSON       []byte `gorm:"type:jsonb"`
	Total           float64
	DeliveryMethod  string
	Address         string
	PaymentMethod   string
	Status          string
	CreatedAt       time.Time
}

func (Order) TableName() string { return "orders" }

type Visit struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID       uuid.UUID `gorm:"type:uuid;index:idx_visits_workspace"`
	ActionExecutionID uuid.UUID `gorm:"type:uuid"`
	PropertyID        uuid.UUID `gorm:"type:uuid"`
	PreferredDatetime time.Time
	ContactInfoJSON   []byte `gorm:"type:jsonb"`
	Status            string
	CreatedAt         time.Time
}

func (Visit) TableName() string { return "visits" }

type Appointment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID       uuid.UUID `gorm:"type:uuid;index:idx_appointments_workspace"`
	ActionExecutionID uuid.UUID `gorm:"type:uuid"`
	ServiceTypeID     uuid.UUID `gorm:"type:uuid"`
	StaffID           *uuid.UUID `gorm:"type:uuid"`
	ScheduledAt       time.Time
	DurationMinutes   int
	ClientContactJSON []byte `gorm:"type:jsonb"`
	GoogleEventID     string
	Status            string
	CreatedAt         time.Time
}

func (Appointment) TableName() string { return "appointments" }

type OutboxEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_outbox_workspace"`
	EventType   string
	PayloadJSON []byte `gorm:"type:jsonb"`
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

type MenuItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_menu_items_workspace"`
	SKU         string
	Name        string
	Price       float64
	Active      bool
}

func (MenuItem) TableName() string { return "menu_items" }

type Property struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_properties_workspace"`
	Operation   string
	Type        string
	Zone        string
	Available   bool
}

func (Property) TableName() string { return "properties" }

type ServiceType struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_service_types_workspace"`
	Name        string
	DurationMinutes int
	Active      bool
}

func (ServiceType) TableName() string { return "service_types" }

type StaffMember struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;index:idx_staff_workspace"`
	Name        string
	CalendarID  string
	Active      bool
}

func (StaffMember) TableName() string { return "staff_members" }
