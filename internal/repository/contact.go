package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// CreateContact persists a contact.
func (r *ContactRepository) CreateContact(c *models.Contact) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	_, err := r.db.Exec(`
		INSERT INTO contacts (id, org_id, name, phone, email, opted_out, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, c.Phone, c.Email, c.OptedOut, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetContact returns a contact by ID, or nil when missing.
func (r *ContactRepository) GetContact(id string) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.db.QueryRow(`
		SELECT id, org_id, name, phone, email, opted_out, created_at, updated_at FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Phone, &c.Email, &c.OptedOut, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// phoneDigits strips the separators NormalizePhone strips, so a stored
// formatted number compares against a gateway's bare digits.
const phoneDigits = `REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(phone, '+', ''), ' ', ''), '-', ''), '(', ''), ')', ''), '.', '')`

// FindByAddress returns the organization's contact whose phone or email
// matches the address, or nil. Used to resolve inbound webhook senders;
// callers pass phone addresses in normalized (digits-only) form.
func (r *ContactRepository) FindByAddress(orgID, address string) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.db.QueryRow(`
		SELECT id, org_id, name, phone, email, opted_out, created_at, updated_at
		FROM contacts WHERE org_id = ? AND (`+phoneDigits+` = ? OR email = ?)`, orgID, address, address,
	).Scan(&c.ID, &c.OrgID, &c.Name, &c.Phone, &c.Email, &c.OptedOut, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetOptedOut flips the opt-out flag for a contact.
func (r *ContactRepository) SetOptedOut(id string, optedOut bool) error {
	_, err := r.db.Exec("UPDATE contacts SET opted_out = ?, updated_at = ? WHERE id = ?", optedOut, time.Now(), id)
	return err
}

// CreateList persists a contact list.
func (r *ContactRepository) CreateList(l *models.List) error {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now()
	_, err := r.db.Exec("INSERT INTO lists (id, org_id, name, created_at) VALUES (?, ?, ?, ?)", l.ID, l.OrgID, l.Name, l.CreatedAt)
	return err
}

// CreateSegment persists a segment.
func (r *ContactRepository) CreateSegment(s *models.Segment) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()
	_, err := r.db.Exec("INSERT INTO segments (id, org_id, name, created_at) VALUES (?, ?, ?, ?)", s.ID, s.OrgID, s.Name, s.CreatedAt)
	return err
}

// AddToList adds a contact to a list. Re-adding is a no-op.
func (r *ContactRepository) AddToList(listID, contactID string) error {
	_, err := r.db.Exec("INSERT OR IGNORE INTO list_members (list_id, contact_id) VALUES (?, ?)", listID, contactID)
	return err
}

// AddToSegment adds a contact to a segment. Re-adding is a no-op.
func (r *ContactRepository) AddToSegment(segmentID, contactID string) error {
	_, err := r.db.Exec("INSERT OR IGNORE INTO segment_members (segment_id, contact_id) VALUES (?, ?)", segmentID, contactID)
	return err
}

// ListMembers returns contacts belonging to any of the given lists.
func (r *ContactRepository) ListMembers(listIDs []string) ([]models.Contact, error) {
	return r.members("list_members", "list_id", listIDs)
}

// SegmentMembers returns contacts belonging to any of the given segments.
func (r *ContactRepository) SegmentMembers(segmentIDs []string) ([]models.Contact, error) {
	return r.members("segment_members", "segment_id", segmentIDs)
}

func (r *ContactRepository) members(table, column string, ids []string) ([]models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Query(`
		SELECT DISTINCT c.id, c.org_id, c.name, c.phone, c.email, c.opted_out, c.created_at, c.updated_at
		FROM contacts c
		JOIN `+table+` m ON m.contact_id = c.id
		WHERE m.`+column+` IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &c.Phone, &c.Email, &c.OptedOut, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
