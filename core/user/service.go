package user

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound         = errors.New("user not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrEmailExists      = errors.New("a user with this email already exists")
	ErrUsernameExists   = errors.New("a user with this username already exists")
	ErrInvalidResetLink = errors.New("invalid value")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		DeleteUsers(ctx context.Context, ids []int, exec ...core.DBExecutor) error

		CreateProfile(ctx context.Context, profile Profile, exec ...core.DBExecutor) (Profile, error)
		GetProfile(ctx context.Context, userID int, exec ...core.DBExecutor) (Profile, error)
		UpdateProfile(ctx context.Context, profile Profile, exec ...core.DBExecutor) (Profile, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id int) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetPassword(ctx context.Context, usr User, pwd string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...int) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error

		GetProfile(ctx context.Context, usr User) (Profile, error)
		UpdateProfile(ctx context.Context, usr User, data UpdateProfile) (Profile, error)
		SetAvatar(ctx context.Context, usr User, filename string, r io.Reader) (Profile, error)
	}

	service struct {
		db       core.DB
		repo     Repository
		mailSvc  core.EmailService
		storage  core.FileStorage
		tokenGen TokenGenerator
		conf     *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, mailSvc core.EmailService, storage core.FileStorage, conf *core.Config) Service {
	return &service{
		db:       db,
		repo:     repo,
		mailSvc:  mailSvc,
		storage:  storage,
		tokenGen: NewTokenGenerator(conf),
		conf:     conf,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking user uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

// Create creates a User along with their Profile. Every new User gets the DefaultRole.
func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     WithDefaultRole(nu.Roles),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if usr, err = svc.repo.CreateUser(ctx, usr, exec); err != nil {
			return errors.Wrap(err, "creating user")
		}
		profile := Profile{UserID: usr.ID, CreatedAt: now, UpdatedAt: now}
		if _, err = svc.repo.CreateProfile(ctx, profile, exec); err != nil {
			return errors.Wrap(err, "creating profile")
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}

	svc.sendWelcomeMail(usr)
	return usr, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = null.TimeFrom(time.Now().UTC())
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, ids ...int) error {
	return svc.repo.DeleteUsers(ctx, ids)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	msg, err := svc.passwordResetMail(usr)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(msg)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidUID := core.NewValidationError(ErrInvalidResetLink, core.FieldError{Field: "uid", Error: ErrInvalidResetLink.Error()})

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalidUID
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalidUID
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = svc.tokenGen.verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "token", Error: ErrInvalidResetLink.Error()})
	}

	_, err = svc.SetPassword(ctx, usr, data.Password)
	return err
}

func (svc *service) GetProfile(ctx context.Context, usr User) (Profile, error) {
	profile, err := svc.repo.GetProfile(ctx, usr.ID)
	if err != nil {
		return Profile{}, err
	}
	return svc.withAvatarURL(profile), nil
}

func (svc *service) UpdateProfile(ctx context.Context, usr User, data UpdateProfile) (Profile, error) {
	profile, err := svc.repo.GetProfile(ctx, usr.ID)
	if err != nil {
		return Profile{}, err
	}
	if data.Bio != nil {
		profile.Bio = *data.Bio
	}
	profile.UpdatedAt = time.Now().UTC()
	if profile, err = svc.repo.UpdateProfile(ctx, profile); err != nil {
		return Profile{}, errors.Wrap(err, "updating profile")
	}
	return svc.withAvatarURL(profile), nil
}

// SetAvatar stores a new avatar image and deletes the previous one.
func (svc *service) SetAvatar(ctx context.Context, usr User, filename string, r io.Reader) (Profile, error) {
	profile, err := svc.repo.GetProfile(ctx, usr.ID)
	if err != nil {
		return Profile{}, err
	}

	key, err := svc.storage.SaveImage(ctx, core.MediaAvatars, filename, r)
	if err != nil {
		return Profile{}, errors.Wrap(err, "saving avatar")
	}
	oldAvatar := profile.Avatar

	profile.Avatar = null.StringFrom(key)
	profile.UpdatedAt = time.Now().UTC()
	if profile, err = svc.repo.UpdateProfile(ctx, profile); err != nil {
		_ = svc.storage.Delete(ctx, key)
		return Profile{}, errors.Wrap(err, "updating profile")
	}

	if oldAvatar.Valid {
		if err = svc.storage.Delete(ctx, oldAvatar.String); err != nil {
			return Profile{}, errors.Wrap(err, "deleting previous avatar")
		}
	}
	return svc.withAvatarURL(profile), nil
}

func (svc *service) withAvatarURL(profile Profile) Profile {
	if profile.Avatar.Valid && svc.storage != nil {
		profile.AvatarURL = svc.storage.URL(profile.Avatar.String)
	}
	return profile
}

func (svc *service) recipient(usr User) []mail.Address {
	return []mail.Address{{Name: usr.EmailName(), Address: usr.Email}}
}

func (svc *service) passwordResetMail(usr User) (*core.EmailMessage, error) {
	token, err := svc.tokenGen.MakeToken(usr)
	if err != nil {
		return nil, errors.Wrap(err, "making password reset token")
	}
	return &core.EmailMessage{
		To:           svc.recipient(usr),
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.EmailName(),
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	}, nil
}

func (svc *service) sendWelcomeMail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           svc.recipient(usr),
		Subject:      fmt.Sprintf("Welcome to %s", svc.conf.AppName),
		TemplateName: "welcome",
		TemplateData: map[string]interface{}{
			"Name":     usr.EmailName(),
			"Username": usr.Username,
		},
	})
}
