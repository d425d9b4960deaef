package storage

import "gorm.io/gorm"

// AutoMigrate creates the schema through GORM for the SQLite dev shape.
// Postgres deployments own their schema through the goose migrations in
// migrations/ instead — RLS policies and partial unique indexes can't be
// expressed here.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Workspace{}, &Channel{}, &Contact{}, &Conversation{}, &ConversationSlots{},
		&Message{}, &File{}, &Document{}, &DocumentRevision{}, &Chunk{}, &ChunkEmbedding{},
		&ProcessingJob{}, &ProcessingJobDLQ{}, &ActionExecution{},
		&Order{}, &Visit{}, &Appointment{}, &OutboxEvent{},
		&MenuItem{}, &Property{}, &ServiceType{}, &StaffMember{},
	)
}
