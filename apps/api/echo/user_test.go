package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/testutil"
)

const strongPwd = "LolC@t123"

func Test_userApi_signup(t *testing.T) {
	f := setup(t)
	longPwd := "Aa1!" + strings.Repeat("z", 68)
	testutil.CreateUser(t, f.usrRepo, "Taken", "taken", "taken@test.cd", "", nil, true)

	newUser := func(uname, email string, roles ...string) user.NewUser {
		return user.NewUser{Name: "New User", Username: uname, Email: email, Password: strongPwd, PasswordConfirm: strongPwd, Roles: roles}
	}

	tests := []httpTest{
		{
			name: "admin role not allowed", body: marchallObj(t, newUser("hacker", "", user.RoleAdmin)),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": errSignupRoles}),
		},
		{
			name: "username or email required", body: marchallObj(t, newUser("", "")),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"username": "one of username or email is required",
				"email":    "one of username or email is required",
			}),
		},
		{
			name: "email taken", body: marchallObj(t, newUser("", "TAKEN@test.cd")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{
			name: "password too common", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Name: "Common", Username: "common", Password: "P@$$w0rd", PasswordConfirm: "P@$$w0rd"}),
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
		{
			name: "password too long", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Name: "Long", Username: "long", Password: longPwd + "x", PasswordConfirm: longPwd + "x"}),
			wantData: marchallObj(t, map[string]string{"password": "password must not be longer than 72 bytes"}),
		},
		{
			name: "password at the limit", wantCode: http.StatusCreated,
			body: marchallObj(t, user.NewUser{Name: "Long", Username: "long", Email: "long@test.cd", Password: longPwd, PasswordConfirm: longPwd}),
		},
		{name: "student", body: marchallObj(t, newUser("pupil", "pupil@test.cd")), wantCode: http.StatusCreated},
		{name: "teacher", body: marchallObj(t, newUser("prof", "", user.RoleTeacher)), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/signup"

		t.Run(tt.name, func(t *testing.T) {
			f.mailSvc.Reset()
			rec := f.run(t, tt)
			if tt.wantCode != http.StatusCreated {
				checkCodeAndData(t, tt, rec)
				assert.Empty(t, f.mailSvc.SentMessages())
				return
			}

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp SignupResponse
			unmarshal(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)
			assert.True(t, resp.User.IsStudent())
			assert.True(t, resp.User.IsActive)
			assert.Len(t, f.mailSvc.SentMessages(), 1)

			profile, err := f.usrRepo.GetProfile(context.Background(), resp.User.ID)
			require.NoError(t, err)
			assert.Equal(t, resp.User.ID, profile.UserID)
		})
	}
}

func Test_userApi_login(t *testing.T) {
	f := setup(t)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "hero@test.cd", strongPwd, nil, true)
	testutil.CreateUser(t, f.usrRepo, "N Dog", "ndog", "ndog@test.cd", strongPwd, nil, false)

	tests := []httpTest{
		{
			name: "required fields", body: marchallObj(t, LoginRequest{}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", body: marchallObj(t, LoginRequest{Username: "lol", Password: strongPwd}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, LoginRequest{Username: "hero", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "inactive user", body: marchallObj(t, LoginRequest{Username: "ndog", Password: strongPwd}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marchallObj(t, LoginRequest{Username: " HERO ", Password: strongPwd}), wantCode: http.StatusOK},
		{name: "by email", body: marchallObj(t, LoginRequest{Username: "hero@test.cd", Password: strongPwd}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := f.run(t, tt)
			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt, rec)
				return
			}

			// cannot guess the token.. just check that it belongs to the user
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp LoginResponse
			unmarshal(t, rec, &resp)
			claims := new(Claims)
			_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(f.conf.SecretKey), nil
			})
			require.NoError(t, err)
			assert.Equal(t, student.ID, claims.UserID())
			assert.True(t, claims.IsStudent)
			assert.False(t, claims.IsAdmin)

			usr, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: student.ID})
			require.NoError(t, err)
			assert.True(t, usr.LastLogin.Valid)
		})
	}
}

func Test_userApi_loginRateLimit(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "hero@test.cd", strongPwd, nil, true)

	login := func(pwd string) int {
		tt := httpTest{method: http.MethodPost, path: "/v1/users/login", body: marchallObj(t, LoginRequest{Username: "hero", Password: pwd})}
		return f.run(t, tt).Code
	}

	// a successful login resets the count
	for i := 0; i < f.conf.RateLimit.MaxAttempts-1; i++ {
		assert.Equal(t, http.StatusBadRequest, login("wrong"))
	}
	assert.Equal(t, http.StatusOK, login(strongPwd))

	for i := 0; i < f.conf.RateLimit.MaxAttempts; i++ {
		assert.Equal(t, http.StatusBadRequest, login("wrong"))
	}
	tt := httpTest{
		method: http.MethodPost, path: "/v1/users/login", body: marchallObj(t, LoginRequest{Username: "hero", Password: strongPwd}),
		wantCode: http.StatusTooManyRequests, wantData: marchallObj(t, httpErr{Error: "too many attempts, please try again later"}),
	}
	checkCodeAndData(t, tt, f.run(t, tt))
}

func Test_userApi_query(t *testing.T) {
	f := setup(t)

	path := func(search, ordering string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	now := time.Now()
	usr1 := testutil.CreateUser(t, f.usrRepo, "User", "awe", "awe@test.cd", "", nil, true, now.Add(1*time.Hour))
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "user3@test.cd", "", nil, true, now.Add(2*time.Hour))
	admin := testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true, now.Add(3*time.Hour))
	teacher := testutil.CreateUser(t, f.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true, now.Add(4*time.Hour))

	adminToken := f.getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: f.getToken(t, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, teacher, admin, student, usr1)},
		{name: "search (unknown)", path: path("lol", ""), token: adminToken, wantData: marchallList(t)},
		{name: "search=USE", path: path("USE", ""), token: adminToken, wantData: marchallList(t, usr1, student)},
		{name: "role=teacher:", path: path("", "", user.RoleTeacher), token: adminToken, wantData: marchallList(t, teacher)},
		{name: "order by created_at", path: path("", "created_at"), token: adminToken, wantData: marchallList(t, usr1, student, admin, teacher)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.run(t, tt))
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	f := setup(t)
	naughty := testutil.CreateUser(t, f.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", nil, false)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "user3@test.cd", "", nil, true)

	unrefreshableClaims := f.app.auth.userClaims(student, time.Now().Add(-2*f.conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := f.app.auth.generateToken(unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: f.getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: f.getToken(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			rec := f.run(t, tt)
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code)
				var resp LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_passwordReset(t *testing.T) {
	f := setup(t)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "user3@test.cd", "", nil, true)
	successData := marchallObj(t, SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})
	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, PasswordResetRequest{Email: "this field is required"})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, PasswordResetRequest{Email: "email must be a valid email address"}),
		},
		{name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, PasswordResetRequest{Email: "lol@test.com"}), wantData: successData, extra: false},
		{name: "known email", wantCode: http.StatusOK, body: marchallObj(t, PasswordResetRequest{Email: student.Email}), wantData: successData, extra: true},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			f.mailSvc.Reset()
			checkCodeAndData(t, tt, f.run(t, tt))

			sent := f.mailSvc.SentMessages()
			if emailSent, _ := tt.extra.(bool); emailSent {
				require.Len(t, sent, 1)
				assert.Equal(t, student.Email, sent[0].To[0].Address)
				assert.True(t, strings.Contains(sent[0].TextContent, student.Name))
				assert.Regexp(t, pathRegex, sent[0].TextContent)
				assert.Regexp(t, pathRegex, sent[0].HTMLContent)
			} else {
				assert.Empty(t, sent)
			}
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	f := setup(t)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "user3@test.cd", "lol", nil, true)
	validUID := user.EncodeUID(student)
	validToken, err := user.NewTokenGenerator(f.conf).MakeToken(student)
	require.NoError(t, err)

	tests := []httpTest{
		{
			name: "invalid pwd: complexity", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{Token: "lol", UID: "lol", Password: "lol12345", PasswordConfirm: "lol12345"}),
			wantData: marchallObj(t, user.ResetUserPassword{Password: "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"}),
		},
		{
			name: "user not found", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{Token: "lol", UID: "OTk5", Password: strongPwd, PasswordConfirm: strongPwd}),
			wantData: marchallObj(t, user.ResetUserPassword{UID: "invalid value"}),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{Token: "HE4TS-sigsig-sig", UID: validUID, Password: strongPwd, PasswordConfirm: strongPwd}),
			wantData: marchallObj(t, user.ResetUserPassword{Token: "invalid value"}),
		},
		{
			name: "valid token", wantCode: http.StatusOK,
			body:     marchallObj(t, user.ResetUserPassword{Token: validToken, UID: validUID, Password: strongPwd, PasswordConfirm: strongPwd}),
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.run(t, tt))
		})
	}

	usr, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: student.ID})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword(strongPwd))
}

func Test_userApi_detail(t *testing.T) {
	f := setup(t)
	admin := testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "hero@test.cd", "", nil, true)
	other := testutil.CreateUser(t, f.usrRepo, "Other", "other", "other@test.cd", "", nil, true)

	adminToken := f.getToken(t, admin)
	studentToken := f.getToken(t, student)
	notFound := marchallObj(t, httpErr{Error: "not found"})

	updated := student
	updated.Name = "Super Hero"

	tests := []httpTest{
		{name: "retrieve self", method: http.MethodGet, path: "/v1/users/" + itoa(student.ID), token: studentToken, wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{name: "retrieve other", method: http.MethodGet, path: "/v1/users/" + itoa(other.ID), token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin retrieves other", method: http.MethodGet, path: "/v1/users/" + itoa(other.ID), token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, other)},
		{name: "unknown", method: http.MethodGet, path: "/v1/users/999", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "malformed id", method: http.MethodGet, path: "/v1/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "student cannot change roles", method: http.MethodPut, path: "/v1/users/" + itoa(student.ID), token: studentToken,
			body: marchallObj(t, map[string]interface{}{"roles": []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "update name", method: http.MethodPut, path: "/v1/users/" + itoa(student.ID), token: studentToken,
			body: marchallObj(t, map[string]string{"name": "Super Hero"}), wantCode: http.StatusOK,
		},
		{
			name: "student cannot delete", method: http.MethodDelete, path: "/v1/users/" + itoa(student.ID), token: studentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "admin cannot delete self", method: http.MethodDelete, path: "/v1/users/" + itoa(admin.ID), token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "admin deletes other", method: http.MethodDelete, path: "/v1/users/" + itoa(other.ID), token: adminToken, wantCode: http.StatusNoContent},
		{
			name: "delete multiple (self included)", method: http.MethodDelete, path: "/v1/users?id=" + itoa(admin.ID) + "&id=" + itoa(student.ID),
			token: adminToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "roles", method: http.MethodGet, path: "/v1/users/roles", token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.run(t, tt)
			checkCodeAndData(t, tt, rec)
			if tt.name == "update name" {
				var usr user.User
				unmarshal(t, rec, &usr)
				assert.Equal(t, updated.Name, usr.Name)
				assert.Equal(t, updated.Email, usr.Email)
			}
		})
	}

	_, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: other.ID})
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func Test_userApi_profile(t *testing.T) {
	f := setup(t)
	student := testutil.CreateUser(t, f.usrRepo, "Hero", "hero", "hero@test.cd", "", nil, true)
	token := f.getToken(t, student)

	tt := httpTest{method: http.MethodPut, path: "/v1/users/me/profile", token: token, body: marchallObj(t, map[string]string{"bio": "  I like maths  "})}
	rec := f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile user.Profile
	unmarshal(t, rec, &profile)
	assert.Equal(t, "I like maths", profile.Bio)

	tt = httpTest{method: http.MethodGet, path: "/v1/users/me/profile", token: token}
	rec = f.run(t, tt)
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &profile)
	assert.Equal(t, "I like maths", profile.Bio)
	assert.Empty(t, profile.AvatarURL)

	// avatar
	req, rec := newUploadRequest(t, "/v1/users/me/profile/avatar", token, "avatar", "me.gif", []byte("GIF89a"))
	f.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req, rec = newUploadRequest(t, "/v1/users/me/profile/avatar", token, "avatar", "me.png", pngBytes(t))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &profile)
	assert.True(t, strings.HasPrefix(profile.AvatarURL, "/media/avatars/"))

	// the media files are served
	req, rec = newRequest(http.MethodGet, profile.AvatarURL)
	f.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
