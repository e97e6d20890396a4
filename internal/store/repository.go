package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

const uniqueViolation = "23505"

const userColumns = "id, name, email, age, status, tags, profile, created_at, updated_at, version"

// Repository is the store gateway: it exclusively owns User write access and
// enforces email uniqueness and version-checked updates against PostgreSQL.
type Repository struct {
	db   *sql.DB
	sink obs.Sink
	now  func() time.Time
}

// NewRepository creates a Repository over an open database handle.
func NewRepository(db *sql.DB, sink obs.Sink) *Repository {
	return &Repository{db: db, sink: sink, now: time.Now}
}

// Create persists a new user with version 1. Fails with ErrDuplicateEmail
// when the email is already taken.
func (r *Repository) Create(ctx context.Context, draft models.CreateUserRequest) (models.User, error) {
	timer := r.sink.StartTimer("store.create")
	defer r.sink.StopTimer(timer, nil)

	status := draft.Status
	if status == "" {
		status = models.StatusActive
	}

	// Pre-check for a friendly error; the unique index still backstops the
	// race where two creates pass this check at once.
	if _, err := r.GetByEmail(ctx, draft.Email); err == nil {
		r.sink.RecordEvent("store.duplicate_email", nil)
		return models.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return models.User{}, err
	}

	now := r.now().UTC()
	user := models.User{
		ID:        uuid.New().String(),
		Name:      draft.Name,
		Email:     draft.Email,
		Age:       draft.Age,
		Status:    status,
		Tags:      draft.Tags,
		Profile:   draft.Profile,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	tags, profile, err := marshalDocs(user)
	if err != nil {
		return models.User{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Name, user.Email, user.Age, string(user.Status),
		tags, profile, user.CreatedAt, user.UpdatedAt, user.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.sink.RecordEvent("store.duplicate_email", nil)
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

// GetByID returns the user with the given id, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or ErrNotFound.
func (r *Repository) GetByEmail(ctx context.Context, email string) (models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Update applies the patch to the stored user. The write is accepted only if
// the caller's observed version (patch.Version) still matches the stored row;
// a mismatch fails with ErrConcurrentModification and the caller must re-read
// and resubmit. The email uniqueness check runs before the version check.
// Returns the updated and the previous user states.
func (r *Repository) Update(ctx context.Context, id string, patch models.UpdateUserRequest) (models.User, models.User, error) {
	timer := r.sink.StartTimer("store.update")
	defer r.sink.StopTimer(timer, nil)

	previous, err := r.GetByID(ctx, id)
	if err != nil {
		return models.User{}, models.User{}, err
	}

	updated := applyPatch(previous, patch)
	updated.UpdatedAt = r.now().UTC()
	updated.Version = previous.Version + 1

	// Uniqueness before version check: a patch that steals another user's
	// email is rejected as DuplicateEmail even if the version is stale.
	if updated.Email != previous.Email {
		if _, err := r.GetByEmail(ctx, updated.Email); err == nil {
			r.sink.RecordEvent("store.duplicate_email", nil)
			return models.User{}, models.User{}, ErrDuplicateEmail
		} else if !errors.Is(err, ErrNotFound) {
			return models.User{}, models.User{}, err
		}
	}

	tags, profile, err := marshalDocs(updated)
	if err != nil {
		return models.User{}, models.User{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET name = $1, email = $2, age = $3, status = $4, tags = $5, profile = $6,
		     updated_at = $7, version = version + 1
		 WHERE id = $8 AND version = $9`,
		updated.Name, updated.Email, updated.Age, string(updated.Status),
		tags, profile, updated.UpdatedAt, id, patch.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.sink.RecordEvent("store.duplicate_email", nil)
			return models.User{}, models.User{}, ErrDuplicateEmail
		}
		return models.User{}, models.User{}, fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return models.User{}, models.User{}, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// The row existed a moment ago, so the version moved underneath us.
		r.sink.RecordEvent("store.version_conflict", nil)
		return models.User{}, models.User{}, ErrConcurrentModification
	}

	return updated, previous, nil
}

// Delete hard-removes the user, failing with ErrNotFound if absent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	timer := r.sink.StartTimer("store.delete")
	defer r.sink.StopTimer(timer, nil)

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns users matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter models.ListFilter) ([]models.User, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if filter.Status != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE status = $1
			 ORDER BY created_at DESC OFFSET $2 LIMIT $3`,
			string(filter.Status), filter.Offset, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users
			 ORDER BY created_at DESC OFFSET $1 LIMIT $2`,
			filter.Offset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return collectUsers(rows)
}

// SearchByName returns users whose name contains the given fragment,
// case-insensitively.
func (r *Repository) SearchByName(ctx context.Context, name string) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name ILIKE $1 ORDER BY name`,
		"%"+name+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return collectUsers(rows)
}

// FindByTags returns users carrying at least one of the given tags.
func (r *Repository) FindByTags(ctx context.Context, tags []string) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tags ?| $1 ORDER BY created_at DESC`,
		pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("failed to find users by tags: %w", err)
	}
	return collectUsers(rows)
}

// CountByStatus returns the number of users in the given status.
func (r *Repository) CountByStatus(ctx context.Context, status models.UserStatus) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func applyPatch(current models.User, patch models.UpdateUserRequest) models.User {
	out := current
	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Email != "" {
		out.Email = patch.Email
	}
	if patch.Age != nil {
		out.Age = *patch.Age
	}
	if patch.Status != "" {
		out.Status = patch.Status
	}
	if patch.Tags != nil {
		out.Tags = patch.Tags
	}
	if patch.Profile != nil {
		out.Profile = patch.Profile
	}
	return out
}

func marshalDocs(user models.User) (tags, profile []byte, err error) {
	if user.Tags != nil {
		tags, err = json.Marshal(user.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
	}
	if user.Profile != nil {
		profile, err = json.Marshal(user.Profile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal profile: %w", err)
		}
	}
	return tags, profile, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	var status string
	var tags, profile []byte

	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Age, &status,
		&tags, &profile, &user.CreatedAt, &user.UpdatedAt, &user.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Status = models.UserStatus(status)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &user.Tags); err != nil {
			return models.User{}, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(profile) > 0 {
		user.Profile = &models.UserProfile{}
		if err := json.Unmarshal(profile, user.Profile); err != nil {
			return models.User{}, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}
	return user, nil
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
