package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"hooksync/internal/platform/models"
)

const mappingColumns = `id, crm_id, telephony_id, messaging_id, phone, email, created_at, updated_at, last_synced_at`

var systemColumns = map[string]string{
	models.SourceCRM:       "crm_id",
	models.SourceTelephony: "telephony_id",
	models.SourceMessaging: "messaging_id",
}

type IdentityRepository struct {
	db *sqlx.DB
}

func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) getBy(ctx context.Context, column, value string) (*models.IdentityMapping, error) {
	var m models.IdentityMapping
	query := r.db.Rebind(fmt.Sprintf(`SELECT %s FROM identity_mappings WHERE %s = ?`, mappingColumns, column))
	if err := r.db.GetContext(ctx, &m, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.IdentityMapping, error) {
	return r.getBy(ctx, "id", id)
}

// FindBySystemID looks a mapping up by one system's id.
func (r *IdentityRepository) FindBySystemID(ctx context.Context, system, id string) (*models.IdentityMapping, error) {
	column, ok := systemColumns[system]
	if !ok {
		return nil, fmt.Errorf("no identity column for system %q", system)
	}
	if id == "" {
		return nil, nil
	}
	return r.getBy(ctx, column, id)
}

func (r *IdentityRepository) FindByPhone(ctx context.Context, phone string) (*models.IdentityMapping, error) {
	if phone == "" {
		return nil, nil
	}
	return r.getBy(ctx, "phone", phone)
}

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.IdentityMapping, error) {
	if email == "" {
		return nil, nil
	}
	return r.getBy(ctx, "email", email)
}

// Create inserts m. A row already holding one of m's ids, phone or email
// yields ErrDuplicate; callers re-read instead of failing.
func (r *IdentityRepository) Create(ctx context.Context, m *models.IdentityMapping, now int64) error {
	m.ID = "idm_" + uuid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.LastSyncedAt = &now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO identity_mappings (id, crm_id, telephony_id, messaging_id, phone, email, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.CRMID, m.TelephonyID, m.MessagingID, m.Phone, m.Email, m.CreatedAt, m.UpdatedAt, m.LastSyncedAt)
	return translate(err)
}

// Link records a system id on an existing mapping and stamps it as synced.
// Phone and email are only filled in when the mapping has none yet.
func (r *IdentityRepository) Link(ctx context.Context, id, system, systemID, phone, email string, now int64) error {
	column, ok := systemColumns[system]
	if !ok {
		return fmt.Errorf("no identity column for system %q", system)
	}

	query := fmt.Sprintf(`
		UPDATE identity_mappings
		SET %s = COALESCE(?, %s), phone = COALESCE(phone, ?), email = COALESCE(email, ?),
			updated_at = ?, last_synced_at = ?
		WHERE id = ?
	`, column, column)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), nullable(systemID), nullable(phone), nullable(email), now, now, id)
	return translate(err)
}

func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM identity_mappings`)
	return n, err
}
