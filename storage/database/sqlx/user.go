package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

const (
	userTable    = `"user"`
	profileTable = "profile"
)

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login",
}

type (
	userRow struct {
		ID           int            `db:"id"`
		Name         string         `db:"name"`
		Username     null.String    `db:"username"`
		Email        null.String    `db:"email"`
		IsActive     bool           `db:"is_active"`
		Roles        pq.StringArray `db:"roles"`
		PasswordHash []byte         `db:"password_hash"`
		CreatedAt    time.Time      `db:"created_at"`
		UpdatedAt    time.Time      `db:"updated_at"`
		LastLogin    null.Time      `db:"last_login"`
	}

	profileRow struct {
		UserID    int         `db:"user_id"`
		Bio       string      `db:"bio"`
		Avatar    null.String `db:"avatar"`
		CreatedAt time.Time   `db:"created_at"`
		UpdatedAt time.Time   `db:"updated_at"`
	}
)

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        []string(r.Roles),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(r.LastLogin.Time.UTC(), r.LastLogin.Valid),
	}
}

func (r profileRow) profile() user.Profile {
	return user.Profile{
		UserID:    r.UserID,
		Bio:       r.Bio,
		Avatar:    r.Avatar,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{repository{exec: exec}}
}

// emptyNull stores empty usernames and emails as NULL so they do not collide on the unique constraints.
func emptyNull(s string) null.String {
	return null.NewString(s, s != "")
}

func rolesArray(roles []string) pq.StringArray {
	if roles == nil {
		return pq.StringArray{}
	}
	return roles
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	or := sq.Or{}
	if username != "" {
		or = append(or, sq.Eq{"username": username})
	}
	if email != "" {
		or = append(or, sq.Eq{"email": email})
	}
	if len(or) == 0 {
		return nil
	}
	q := psql.Select("id", "username", "email").From(userTable).Where(or).Limit(2)
	if len(excludedUsers) > 0 {
		ids := make([]int, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q = q.Where(sq.NotEq{"id": ids})
	}

	var rows []struct {
		ID       int         `db:"id"`
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := psql.Insert(userTable).
		Columns("name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login").
		Values(usr.Name, emptyNull(usr.Username), emptyNull(usr.Email), usr.IsActive, rolesArray(usr.Roles),
			usr.PasswordHash, usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), usr.LastLogin)

	id, err := repo.insert(ctx, exec, q)
	if err != nil {
		return user.User{}, repo.trapUniqueErr(err, "inserting user")
	}
	usr.ID = id
	return usr, nil
}

func (repo *userRepository) trapUniqueErr(err error, msg string) error {
	switch constraint, _ := violatedConstraint(err); constraint {
	case "user_username_key":
		return user.ErrUsernameExists
	case "user_email_key":
		return user.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	q := psql.Select(userColumns...).From(userTable).OrderBy(orderBy(ordering, "id ASC")...)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := ilike(filter.Search)
			q = q.Where(sq.Or{
				sq.ILike{"name": val},
				sq.ILike{"username": val},
				sq.ILike{"email": val},
			})
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roles := sq.Or{}
			for _, role := range filter.Roles {
				roles = append(roles, sq.Expr("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ?)", role+"%"))
			}
			q = q.Where(roles)
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			q = q.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			q = q.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}

	var rows []userRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	q := psql.Select(userColumns...).From(userTable).Limit(1)
	switch {
	case filter.ID != 0:
		q = q.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		q = q.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		q = q.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != "":
		q = q.Where(sq.Or{sq.Eq{"username": filter.UsernameOrEmail}, sq.Eq{"email": filter.UsernameOrEmail}})
	default:
		return user.User{}, user.ErrNotFound
	}

	var rows []userRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return user.User{}, errors.Wrap(err, "finding user")
	}
	if len(rows) == 0 {
		return user.User{}, user.ErrNotFound
	}
	return rows[0].user(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := psql.Update(userTable).
		SetMap(map[string]interface{}{
			"name":          usr.Name,
			"username":      emptyNull(usr.Username),
			"email":         emptyNull(usr.Email),
			"is_active":     usr.IsActive,
			"roles":         rolesArray(usr.Roles),
			"password_hash": usr.PasswordHash,
			"updated_at":    usr.UpdatedAt.UTC(),
			"last_login":    usr.LastLogin,
		}).
		Where(sq.Eq{"id": usr.ID})

	n, err := repo.execute(ctx, exec, q)
	if err != nil {
		return user.User{}, repo.trapUniqueErr(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids []int, exec ...core.DBExecutor) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.execute(ctx, exec, psql.Delete(userTable).Where(sq.Eq{"id": ids}))
	return errors.Wrap(err, "deleting users")
}

func (repo *userRepository) CreateProfile(ctx context.Context, profile user.Profile, exec ...core.DBExecutor) (user.Profile, error) {
	q := psql.Insert(profileTable).
		Columns("user_id", "bio", "avatar", "created_at", "updated_at").
		Values(profile.UserID, profile.Bio, profile.Avatar, profile.CreatedAt.UTC(), profile.UpdatedAt.UTC())

	if _, err := repo.execute(ctx, exec, q); err != nil {
		return user.Profile{}, errors.Wrap(err, "inserting profile")
	}
	return profile, nil
}

func (repo *userRepository) GetProfile(ctx context.Context, userID int, exec ...core.DBExecutor) (user.Profile, error) {
	q := psql.Select("user_id", "bio", "avatar", "created_at", "updated_at").
		From(profileTable).
		Where(sq.Eq{"user_id": userID})

	var rows []profileRow
	if err := repo.selectRows(ctx, exec, q, &rows); err != nil {
		return user.Profile{}, errors.Wrap(err, "finding profile")
	}
	if len(rows) == 0 {
		return user.Profile{}, user.ErrProfileNotFound
	}
	return rows[0].profile(), nil
}

func (repo *userRepository) UpdateProfile(ctx context.Context, profile user.Profile, exec ...core.DBExecutor) (user.Profile, error) {
	q := psql.Update(profileTable).
		Set("bio", profile.Bio).
		Set("avatar", profile.Avatar).
		Set("updated_at", profile.UpdatedAt.UTC()).
		Where(sq.Eq{"user_id": profile.UserID})

	n, err := repo.execute(ctx, exec, q)
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "updating profile")
	}
	if n == 0 {
		return user.Profile{}, user.ErrProfileNotFound
	}
	return profile, nil
}
