package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

var _ repository.UserRepository = (*userRepository)(nil)

const userColumns = `id, email, google_id, full_name, profile_pic, password_hash, role, skills, created_at, updated_at`

type userRepository struct {
	conn *sql.DB
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = domain.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.Skills == nil {
		user.Skills = []string{}
	}
	skills, err := encodeTags(user.Skills)
	if err != nil {
		return err
	}

	_, err = r.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.GoogleID,
		user.FullName,
		user.ProfilePic,
		user.PasswordHash,
		user.Role,
		skills,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return translate(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, domain.NormalizeEmail(email))
}

func (r *userRepository) FirstByRole(ctx context.Context, role domain.Role) (*domain.User, error) {
	return r.getOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, role)
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) Update(ctx context.Context, id string, update domain.UserUpdate) (*domain.User, error) {
	var role, skills any
	if update.Role != nil {
		role = string(*update.Role)
	}
	if update.Skills != nil {
		encoded, err := encodeTags(update.Skills)
		if err != nil {
			return nil, err
		}
		skills = encoded
	}
	return r.getOne(ctx,
		`UPDATE users SET role = COALESCE(?, role), skills = COALESCE(?, skills), updated_at = ?
		 WHERE id = ? RETURNING `+userColumns,
		role, skills, time.Now().UTC(), id,
	)
}

func (r *userRepository) UpsertLocal(ctx context.Context, user *domain.User) error {
	existing, err := r.GetByEmail(ctx, user.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return r.Create(ctx, user)
	case err != nil:
		return err
	}

	user.ID = existing.ID
	user.Email = existing.Email
	user.GoogleID = existing.GoogleID
	user.Skills = existing.Skills
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	_, err = r.conn.ExecContext(ctx,
		`UPDATE users SET full_name = ?, password_hash = ?, role = ?, updated_at = ? WHERE id = ?`,
		user.FullName, user.PasswordHash, user.Role, user.UpdatedAt, user.ID,
	)
	return translate(err)
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user, err := scanUser(r.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user     domain.User
		googleID sql.NullString
		skills   string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&googleID,
		&user.FullName,
		&user.ProfilePic,
		&user.PasswordHash,
		&user.Role,
		&skills,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if googleID.Valid {
		user.GoogleID = &googleID.String
	}
	tags, err := decodeTags(skills)
	if err != nil {
		return nil, err
	}
	user.Skills = tags
	return &user, nil
}
