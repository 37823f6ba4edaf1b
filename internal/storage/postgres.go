package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore persists workflow instances, the outbound message log, and
// variant statistics.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil
}

// instanceRow mirrors WorkflowInstance with driver-scannable column types.
type instanceRow struct {
	ID              int64                 `db:"id"`
	ContactID       string                `db:"contact_id"`
	WorkflowID      string                `db:"workflow_id"`
	Status          models.InstanceStatus `db:"status"`
	StatusReason    string                `db:"status_reason"`
	CurrentStage    int                   `db:"current_stage"`
	CompletedStages pq.StringArray        `db:"completed_stages"`
	NextStage       int                   `db:"next_stage"`
	NextDueAt       *time.Time            `db:"next_due_at"`
	MessagesSent    int                   `db:"messages_sent"`
	StartedAt       time.Time             `db:"started_at"`
	LastStageAt     *time.Time            `db:"last_stage_at"`
	CompletedAt     *time.Time            `db:"completed_at"`
	Version         int64                 `db:"version"`
	CreatedAt       time.Time             `db:"created_at"`
	UpdatedAt       time.Time             `db:"updated_at"`
}

func (r instanceRow) toModel() models.WorkflowInstance {
	return models.WorkflowInstance{
		ID:              r.ID,
		ContactID:       r.ContactID,
		WorkflowID:      r.WorkflowID,
		Status:          r.Status,
		StatusReason:    r.StatusReason,
		CurrentStage:    r.CurrentStage,
		CompletedStages: []string(r.CompletedStages),
		NextStage:       r.NextStage,
		NextDueAt:       r.NextDueAt,
		MessagesSent:    r.MessagesSent,
		StartedAt:       r.StartedAt,
		LastStageAt:     r.LastStageAt,
		CompletedAt:     r.CompletedAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const instanceColumns = `id, contact_id, workflow_id, status, status_reason, current_stage,
	completed_stages, next_stage, next_due_at, messages_sent, started_at,
	last_stage_at, completed_at, version, created_at, updated_at`

// SaveInstance inserts a new instance and returns its ID.
func (s *PostgresStore) SaveInstance(wi models.WorkflowInstance) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO drip_instances
			(contact_id, workflow_id, status, status_reason, current_stage,
			 completed_stages, next_stage, next_due_at, messages_sent,
			 started_at, last_stage_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		wi.ContactID, wi.WorkflowID, wi.Status, wi.StatusReason, wi.CurrentStage,
		pq.Array(wi.CompletedStages), wi.NextStage, wi.NextDueAt, wi.MessagesSent,
		wi.StartedAt, wi.LastStageAt, wi.CompletedAt, wi.Version).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save instance: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetInstance(id int64) (models.WorkflowInstance, error) {
	var row instanceRow
	err := s.db.Get(&row, "SELECT "+instanceColumns+" FROM drip_instances WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return row.toModel(), nil
}

func (s *PostgresStore) GetActiveInstance(contactID string) (models.WorkflowInstance, error) {
	var row instanceRow
	err := s.db.Get(&row,
		"SELECT "+instanceColumns+" FROM drip_instances WHERE contact_id = $1 AND status = $2 ORDER BY id DESC LIMIT 1",
		contactID, models.ActiveInstanceStatus)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return row.toModel(), nil
}

func (s *PostgresStore) GetContactInstance(contactID string) (models.WorkflowInstance, error) {
	var row instanceRow
	err := s.db.Get(&row,
		"SELECT "+instanceColumns+" FROM drip_instances WHERE contact_id = $1 ORDER BY id DESC LIMIT 1",
		contactID)
	if err == sql.ErrNoRows {
		return models.WorkflowInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return row.toModel(), nil
}

// UpdateInstance writes the instance guarded by the optimistic version
// check; a concurrent pass that already advanced the row wins.
func (s *PostgresStore) UpdateInstance(wi models.WorkflowInstance) error {
	res, err := s.db.Exec(`
		UPDATE drip_instances SET
			status = $1, status_reason = $2, current_stage = $3,
			completed_stages = $4, next_stage = $5, next_due_at = $6,
			messages_sent = $7, last_stage_at = $8, completed_at = $9,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $10 AND version = $11`,
		wi.Status, wi.StatusReason, wi.CurrentStage,
		pq.Array(wi.CompletedStages), wi.NextStage, wi.NextDueAt,
		wi.MessagesSent, wi.LastStageAt, wi.CompletedAt,
		wi.ID, wi.Version)
	if err != nil {
		return fmt.Errorf("update instance %d: %w", wi.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.Get(&exists, "SELECT EXISTS (SELECT 1 FROM drip_instances WHERE id = $1)", wi.ID); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrStaleInstance
	}
	return nil
}

func (s *PostgresStore) ListInstances() ([]models.WorkflowInstance, error) {
	var rows []instanceRow
	err := s.db.Select(&rows, "SELECT "+instanceColumns+" FROM drip_instances ORDER BY id")
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkflowInstance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ListDueInstances relies on the (status, next_due_at) index so discovery
// cost tracks the due count, not the active population.
func (s *PostgresStore) ListDueInstances(now time.Time, limit int) ([]models.WorkflowInstance, error) {
	var rows []instanceRow
	err := s.db.Select(&rows, `
		SELECT `+instanceColumns+` FROM drip_instances
		WHERE status = $1 AND next_due_at IS NOT NULL AND next_due_at <= $2
		ORDER BY next_due_at
		LIMIT $3`,
		models.ActiveInstanceStatus, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkflowInstance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) SaveMessage(m models.OutboundMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO outbound_messages
			(id, contact_id, instance_id, stage_id, template_id, variant,
			 delivery_id, to_address, subject, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.ContactID, m.InstanceID, m.StageID, m.TemplateID, m.Variant,
		m.DeliveryID, m.ToAddress, m.Subject, m.SentAt)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessageByDeliveryID(deliveryID string) (models.OutboundMessage, error) {
	var m models.OutboundMessage
	err := s.db.Get(&m, "SELECT * FROM outbound_messages WHERE delivery_id = $1", deliveryID)
	if err == sql.ErrNoRows {
		return models.OutboundMessage{}, storage.ErrNotFound
	}
	if err != nil {
		return models.OutboundMessage{}, err
	}
	return m, nil
}

var eventColumns = map[models.EventKind][2]string{
	models.DeliveredEvent:    {"delivered", "delivered_at"},
	models.OpenedEvent:       {"opened", "opened_at"},
	models.ClickedEvent:      {"clicked", "clicked_at"},
	models.BouncedEvent:      {"bounced", "bounced_at"},
	models.UnsubscribedEvent: {"unsubscribed", "unsubscribed_at"},
}

// MarkMessageEvent flips the event flag only when currently unset, so
// duplicate provider callbacks report applied=false.
func (s *PostgresStore) MarkMessageEvent(deliveryID string, kind models.EventKind, at time.Time) (bool, error) {
	cols, ok := eventColumns[kind]
	if !ok {
		return false, fmt.Errorf("unknown event kind %q", kind)
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		UPDATE outbound_messages SET %s = TRUE, %s = $2
		WHERE delivery_id = $1 AND %s = FALSE`, cols[0], cols[1], cols[0]),
		deliveryID, at)
	if err != nil {
		return false, fmt.Errorf("mark %s on delivery %s: %w", kind, deliveryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := s.db.Get(&exists, "SELECT EXISTS (SELECT 1 FROM outbound_messages WHERE delivery_id = $1)", deliveryID); err != nil {
		return false, err
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) GetVariantStats(templateID string) ([]models.VariantStats, error) {
	var stats []models.VariantStats
	err := s.db.Select(&stats,
		"SELECT template_id, variant, attempts, successes FROM variant_stats WHERE template_id = $1 ORDER BY variant",
		templateID)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// IncrementAttempts upserts the counter row; the single statement keeps the
// increment atomic under concurrent stage execution.
func (s *PostgresStore) IncrementAttempts(templateID, variant string) error {
	_, err := s.db.Exec(`
		INSERT INTO variant_stats (template_id, variant, attempts, successes)
		VALUES ($1, $2, 1, 0)
		ON CONFLICT (template_id, variant)
		DO UPDATE SET attempts = variant_stats.attempts + 1`,
		templateID, variant)
	return err
}

// IncrementSuccesses refuses to push successes past attempts.
func (s *PostgresStore) IncrementSuccesses(templateID, variant string) error {
	res, err := s.db.Exec(`
		UPDATE variant_stats SET successes = successes + 1
		WHERE template_id = $1 AND variant = $2 AND successes < attempts`,
		templateID, variant)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no attempt recorded for %s/%s to convert", templateID, variant)
	}
	return nil
}
