package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var cliRoles = map[string][]string{
	"admin":   user.AllRoles,
	"teacher": user.WithDefaultRole(user.TeacherRoles),
	"student": user.StudentRoles,
}

// addUser updates or creates an active user.User, new users get an empty profile.
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	isNew := errors.Cause(err) == user.ErrNotFound
	if err != nil && !isNew {
		return err
	}
	if isNew {
		usr = user.User{Username: uname, CreatedAt: now}
	}
	if name != "" {
		usr.Name = core.CleanString(name)
	}
	usr.Email = email
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if !isNew {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
		return err
	}
	if usr, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
		return err
	}
	_, err = cli.usrRepo.CreateProfile(ctx, user.Profile{UserID: usr.ID, CreatedAt: now, UpdatedAt: now})
	return err
}
