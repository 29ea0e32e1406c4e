package postgres

import (
	"context"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

const userColumns = `id, email, google_id, full_name, profile_pic, password_hash, role, skills, created_at, updated_at`

type userRepository struct {
	db DB
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, google_id, full_name, profile_pic, password_hash, role, skills)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`

	if user.Skills == nil {
		user.Skills = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		domain.NormalizeEmail(user.Email),
		user.GoogleID,
		user.FullName,
		user.ProfilePic,
		user.PasswordHash,
		user.Role,
		user.Skills,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return translate(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, domain.NormalizeEmail(email))
}

func (r *userRepository) FirstByRole(ctx context.Context, role domain.Role) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE role=$1 ORDER BY created_at ASC, id ASC LIMIT 1`, role)
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, translate(err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) Update(ctx context.Context, id string, update domain.UserUpdate) (*domain.User, error) {
	var role *string
	if update.Role != nil {
		value := string(*update.Role)
		role = &value
	}
	query := `
        UPDATE users
        SET role = COALESCE($2::text, role), skills = COALESCE($3::text[], skills), updated_at=NOW()
        WHERE id=$1
        RETURNING ` + userColumns
	return r.getOne(ctx, query, id, role, update.Skills)
}

func (r *userRepository) UpsertLocal(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, full_name, profile_pic, password_hash, role, skills)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (email) DO UPDATE
        SET full_name = EXCLUDED.full_name,
            password_hash = EXCLUDED.password_hash,
            role = EXCLUDED.role,
            updated_at = NOW()
        RETURNING id, created_at, updated_at`

	if user.Skills == nil {
		user.Skills = []string{}
	}
	user.Email = domain.NormalizeEmail(user.Email)
	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.FullName,
		user.ProfilePic,
		user.PasswordHash,
		user.Role,
		user.Skills,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return translate(err)
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.GoogleID,
		&user.FullName,
		&user.ProfilePic,
		&user.PasswordHash,
		&user.Role,
		&user.Skills,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
