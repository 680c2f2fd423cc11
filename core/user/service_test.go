package user_test

import (
	"bytes"
	"context"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/storage/database/dummy"
	"github.com/trezcool/darasa/testutil"
)

func setup(t *testing.T) (user.Service, user.Repository, *emailsvc.Mock) {
	testutil.LoadTemplates()
	repo := dummydb.NewUserRepository(dummydb.Open())
	mailSvc := emailsvc.NewMock(core.NewTestConfig(), testutil.NewLogger())
	return user.NewTestService(repo, mailSvc, testutil.NewStorage(t)), repo, mailSvc
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, repo, mailSvc := setup(t)

	usr, err := svc.Create(ctx, user.NewUser{
		Name:     "Jane Doe",
		Username: "jane",
		Email:    "jane@example.com",
		Password: "Pa$$w0rd!",
	})
	require.NoError(t, err)
	assert.NotZero(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
	assert.NoError(t, usr.CheckPassword("Pa$$w0rd!"))

	profile, err := repo.GetProfile(ctx, usr.ID)
	require.NoError(t, err, "profile is provisioned along with the user")
	assert.Equal(t, usr.ID, profile.UserID)

	sent := mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome to Darasa", sent[0].Subject)
	assert.Equal(t, "jane@example.com", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "jane")

	teacher, err := svc.Create(ctx, user.NewUser{Name: "T", Username: "teacher", Password: "Pa$$w0rd!", Roles: []string{user.RoleTeacher}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{user.RoleStudent, user.RoleTeacher}, teacher.Roles)
	assert.Len(t, mailSvc.SentMessages(), 1, "no welcome mail without email")
}

func TestService_CheckUniqueness(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup(t)
	bob := testutil.CreateUser(t, repo, "Bob", "bob", "bob@example.com", "", nil, true)

	tests := []struct {
		name      string
		uname     string
		email     string
		excl      []user.User
		wantField string
	}{
		{name: "username taken", uname: "bob", email: "other@example.com", wantField: "username"},
		{name: "email taken", uname: "other", email: "bob@example.com", wantField: "email"},
		{name: "unique", uname: "other", email: "other@example.com"},
		{name: "excluded user", uname: "bob", email: "bob@example.com", excl: []user.User{bob}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.CheckUniqueness(ctx, tc.uname, tc.email, tc.excl...)
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *core.ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Len(t, vErr.Fields, 1)
			assert.Equal(t, tc.wantField, vErr.Fields[0].Field)
		})
	}
}

func TestService_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, repo, mailSvc := setup(t)
	testutil.CreateUser(t, repo, "Bob", "bob", "bob@example.com", "", nil, true)
	testutil.CreateUser(t, repo, "Old", "old", "old@example.com", "", nil, false)

	assert.Equal(t, user.ErrNotFound, svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Equal(t, user.ErrNotFound, svc.RequestPasswordReset(ctx, "old@example.com"))
	assert.Empty(t, mailSvc.SentMessages())

	require.NoError(t, svc.RequestPasswordReset(ctx, " BOB@example.com "))
	sent := mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Password Reset", sent[0].Subject)
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup(t)
	bob := testutil.CreateUser(t, repo, "Bob", "bob", "bob@example.com", "Old-pa$$w0rd", nil, true)
	token, err := user.NewTokenGenerator(core.NewTestConfig()).MakeToken(bob)
	require.NoError(t, err)

	err = svc.ResetPassword(ctx, user.ResetUserPassword{UID: "bad", Token: token, Password: "N3w-pa$$w0rd"})
	assert.Error(t, err)

	err = svc.ResetPassword(ctx, user.ResetUserPassword{UID: user.EncodeUID(bob), Token: "bad-token", Password: "N3w-pa$$w0rd"})
	assert.Error(t, err)

	require.NoError(t, svc.ResetPassword(ctx, user.ResetUserPassword{UID: user.EncodeUID(bob), Token: token, Password: "N3w-pa$$w0rd"}))
	bob, err = svc.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.NoError(t, bob.CheckPassword("N3w-pa$$w0rd"))

	err = svc.ResetPassword(ctx, user.ResetUserPassword{UID: user.EncodeUID(bob), Token: token, Password: "An0ther-pa$$"})
	assert.Error(t, err, "tokens are single use")
}

func TestService_Profile(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup(t)
	bob := testutil.CreateUser(t, repo, "Bob", "bob", "bob@example.com", "", nil, true)

	bio := "I teach maths"
	profile, err := svc.UpdateProfile(ctx, bob, user.UpdateProfile{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, profile.Bio)

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(10, 10, image.Black.C), imaging.PNG))
	profile, err = svc.SetAvatar(ctx, bob, "me.png", &buf)
	require.NoError(t, err)
	require.True(t, profile.Avatar.Valid)
	assert.Equal(t, "/media/"+profile.Avatar.String, profile.AvatarURL)
	assert.Equal(t, bio, profile.Bio)

	profile, err = svc.GetProfile(ctx, bob)
	require.NoError(t, err)
	assert.NotEmpty(t, profile.AvatarURL)

	_, err = svc.SetAvatar(ctx, bob, "me.png", bytes.NewBufferString("not an image"))
	assert.Error(t, err)
}
