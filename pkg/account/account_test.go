package account

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"accounts/models"
	"accounts/pkg/config"
	"accounts/pkg/database"
	"accounts/pkg/mailer"
	"accounts/pkg/profile"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	testSite = Site{Name: "testserver", Domain: "testserver", BaseURL: "http://testserver"}
	keyRE    = regexp.MustCompile(`/confirm-email/([^/]+)/`)
	resetRE  = regexp.MustCompile(`/password/reset/confirm/([^/]+)/([^/]+)/`)
)

type fixture struct {
	svc    *Service
	db     *gorm.DB
	outbox *mailer.Outbox
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := database.NewTestDB(t)
	outbox := &mailer.Outbox{}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}
	svc := NewService(db, profile.NewStore(db), outbox, zaptest.NewLogger(t), opts)
	return &fixture{svc: svc, db: db, outbox: outbox}
}

func (f *fixture) register(t *testing.T, in Registration) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), testSite, in)
	if err != nil {
		t.Fatalf("Register(%+v): %v", in, err)
	}
	return u
}

func fieldsOf(t *testing.T, err error) map[string][]string {
	t.Helper()
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return v.Fields
}

func TestRegisterDerivesUsernameAndSendsOneConfirmation(t *testing.T) {
	f := newFixture(t, Options{})
	u := f.register(t, Registration{Email: "testuser3@email.com", Password1: "pw", Password2: "pw"})

	if u.Username != "testuser3" || !u.IsActive || u.IsStaff || u.IsSuperuser {
		t.Fatalf("unexpected user: %+v", u)
	}
	var addr models.EmailAddress
	if err := f.db.Where("email = ?", "testuser3@email.com").First(&addr).Error; err != nil {
		t.Fatalf("email address not stored: %v", err)
	}
	if addr.Verified || !addr.IsPrimary {
		t.Fatalf("unexpected address: %+v", addr)
	}

	msgs := f.outbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(msgs))
	}
	m := msgs[0]
	if m.To[0] != "testuser3@email.com" || !strings.Contains(m.Subject, "Confirm") {
		t.Fatalf("unexpected mail: %+v", m)
	}
	want := "You're receiving this email because user testuser3 has given your email address to register an account on testserver"
	if !strings.Contains(m.Body, want) {
		t.Fatalf("mail body missing greeting:\n%s", m.Body)
	}
	if !strings.Contains(m.Body, "http://testserver/api/accounts/confirm-email/") {
		t.Fatalf("mail body missing link:\n%s", m.Body)
	}
}

func TestRegisterUsernameCollisionGetsSuffix(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, Registration{Email: "testuser@email.com", Password1: "pw", Password2: "pw"})
	u := f.register(t, Registration{Email: "TestUser@other.com", Password1: "pw", Password2: "pw"})
	if u.Username != "testuser2" {
		t.Fatalf("username = %q, want testuser2", u.Username)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, Registration{Username: "taken", Email: "taken@email.com", Password1: "pw", Password2: "pw"})

	cases := []struct {
		name string
		in   Registration
		want map[string][]string
	}{
		{"missing email", Registration{Username: "testuser", Password1: "pw", Password2: "pw"},
			map[string][]string{"email": {msgRequired}}},
		{"bad email", Registration{Email: "nope", Password1: "pw", Password2: "pw"},
			map[string][]string{"email": {msgInvalidEmail}}},
		{"email taken", Registration{Email: "TAKEN@email.com", Password1: "pw", Password2: "pw"},
			map[string][]string{"email": {msgEmailTaken}}},
		{"username taken", Registration{Username: "taken", Email: "new@email.com", Password1: "pw", Password2: "pw"},
			map[string][]string{"username": {msgUsernameTaken}}},
		{"mismatch", Registration{Email: "m@email.com", Password1: "pw", Password2: "other"},
			map[string][]string{NonFieldErrors: {msgPasswordMismatch}}},
		{"bad phone", Registration{Email: "p@email.com", Password1: "pw", Password2: "pw", Phone: "123"},
			map[string][]string{"phone": {"Enter a valid phone number (e.g. +12125552368)."}}},
		{"missing passwords", Registration{Email: "x@email.com"},
			map[string][]string{"password1": {msgRequired}, "password2": {msgRequired}}},
	}
	for _, tc := range cases {
		_, err := f.svc.Register(context.Background(), testSite, tc.in)
		if got := fieldsOf(t, err); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: errors = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRegisterPasswordMinLength(t *testing.T) {
	f := newFixture(t, Options{PasswordMinLength: 8})
	_, err := f.svc.Register(context.Background(), testSite, Registration{Email: "a@email.com", Password1: "short", Password2: "short"})
	if fields := fieldsOf(t, err); len(fields["password1"]) != 1 {
		t.Fatalf("expected password1 error, got %v", fields)
	}
}

func TestRegisterAttachesPhoneOnlyWhenGiven(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	with := f.register(t, Registration{Email: "with@email.com", Password1: "pw", Password2: "pw", Phone: "+256 781 435 857"})
	without := f.register(t, Registration{Email: "without@email.com", Password1: "pw", Password2: "pw"})

	p, err := f.svc.profiles.Get(ctx, with.ID)
	if err != nil || p == nil || *p.Phone != "+256781435857" {
		t.Fatalf("profile with phone = %+v, %v", p, err)
	}
	if p.AuthorID == nil || *p.AuthorID != with.ID {
		t.Fatalf("profile author = %v", p.AuthorID)
	}
	if p, _ := f.svc.profiles.Get(ctx, without.ID); p != nil {
		t.Fatalf("profile created without phone: %+v", p)
	}
}

func TestRegisterWithoutVerificationSendsNothing(t *testing.T) {
	f := newFixture(t, Options{EmailVerification: config.VerificationNone})
	f.register(t, Registration{Email: "quiet@email.com", Password1: "pw", Password2: "pw"})
	if n := len(f.outbox.Messages()); n != 0 {
		t.Fatalf("expected no mail, got %d", n)
	}
}

func TestConfirmEmailOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t, Registration{Email: "c@email.com", Password1: "pw", Password2: "pw"})
	key := keyRE.FindStringSubmatch(f.outbox.Messages()[0].Body)[1]

	addr, err := f.svc.LookupConfirmation(ctx, key)
	if err != nil || addr.Email != "c@email.com" {
		t.Fatalf("LookupConfirmation = %+v, %v", addr, err)
	}
	addr, err = f.svc.ConfirmEmail(ctx, key)
	if err != nil || !addr.Verified {
		t.Fatalf("ConfirmEmail = %+v, %v", addr, err)
	}
	var stored models.EmailAddress
	f.db.First(&stored, addr.ID)
	if !stored.Verified {
		t.Fatalf("address not verified in database")
	}
	if _, err := f.svc.ConfirmEmail(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reused key: got %v", err)
	}
	if _, err := f.svc.ConfirmEmail(ctx, "invalid-key-12345"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid key: got %v", err)
	}
}

func TestConfirmEmailExpired(t *testing.T) {
	f := newFixture(t, Options{ConfirmationTTL: time.Hour})
	f.register(t, Registration{Email: "late@email.com", Password1: "pw", Password2: "pw"})
	key := keyRE.FindStringSubmatch(f.outbox.Messages()[0].Body)[1]
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := f.svc.ConfirmEmail(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key: got %v", err)
	}
}

func TestResendConfirmation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t, Registration{Email: "r@email.com", Password1: "pw", Password2: "pw"})
	f.outbox.Reset()

	if err := f.svc.ResendConfirmation(ctx, testSite, "R@email.com"); err != nil {
		t.Fatalf("ResendConfirmation: %v", err)
	}
	if err := f.svc.ResendConfirmation(ctx, testSite, "unknown@email.com"); err != nil {
		t.Fatalf("ResendConfirmation unknown: %v", err)
	}
	msgs := f.outbox.Messages()
	if len(msgs) != 1 || !keyRE.MatchString(msgs[0].Body) {
		t.Fatalf("expected one resent confirmation, got %+v", msgs)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	u := f.register(t, Registration{Email: "login@email.com", Password1: "secret", Password2: "secret"})

	for _, login := range []string{"login@email.com", "LOGIN@email.com", u.Username} {
		got, err := f.svc.Authenticate(ctx, login, "secret")
		if err != nil || got.ID != u.ID {
			t.Fatalf("Authenticate(%q) = %+v, %v", login, got, err)
		}
	}
	if _, err := f.svc.Authenticate(ctx, "login@email.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "nobody@email.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v", err)
	}
	f.db.Model(u).Update("is_active", false)
	if _, err := f.svc.Authenticate(ctx, "login@email.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive user: got %v", err)
	}
}

func TestAuthenticateMandatoryVerification(t *testing.T) {
	f := newFixture(t, Options{EmailVerification: config.VerificationMandatory})
	ctx := context.Background()
	f.register(t, Registration{Email: "v@email.com", Password1: "pw", Password2: "pw"})
	if _, err := f.svc.Authenticate(ctx, "v@email.com", "pw"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("unverified login: got %v", err)
	}
	key := keyRE.FindStringSubmatch(f.outbox.Messages()[0].Body)[1]
	if _, err := f.svc.ConfirmEmail(ctx, key); err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "v@email.com", "pw"); err != nil {
		t.Fatalf("verified login: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, Options{OldPasswordRequired: true})
	ctx := context.Background()
	u := f.register(t, Registration{Email: "cp@email.com", Password1: "old", Password2: "old"})

	err := f.svc.ChangePassword(ctx, u, ChangePassword{OldPassword: "bad", NewPassword1: "new", NewPassword2: "new"})
	if fields := fieldsOf(t, err); fields["old_password"][0] != msgOldPassword {
		t.Fatalf("unexpected errors %v", fields)
	}
	err = f.svc.ChangePassword(ctx, u, ChangePassword{OldPassword: "old", NewPassword1: "new", NewPassword2: "other"})
	if fields := fieldsOf(t, err); fields["new_password2"][0] != msgNewPasswordMatch {
		t.Fatalf("unexpected errors %v", fields)
	}
	if err := f.svc.ChangePassword(ctx, u, ChangePassword{OldPassword: "old", NewPassword1: "testing321", NewPassword2: "testing321"}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "cp@email.com", "testing321"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	u, err := f.svc.CreateUser(ctx, NewUser{Username: "testuser", Email: "testuser@email.com", Password: "testpassword"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := f.svc.RequestPasswordReset(ctx, testSite, "nobody@email.com"); err != nil {
		t.Fatalf("reset unknown: %v", err)
	}
	if n := len(f.outbox.Messages()); n != 0 {
		t.Fatalf("mail sent for unknown address: %d", n)
	}
	if err := f.svc.RequestPasswordReset(ctx, testSite, u.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	msgs := f.outbox.Messages()
	if len(msgs) != 1 || msgs[0].Subject != "[testserver] Password Reset Email" {
		t.Fatalf("unexpected reset mail: %+v", msgs)
	}
	m := resetRE.FindStringSubmatch(msgs[0].Body)
	if m == nil || m[1] != EncodeUID(u.ID) {
		t.Fatalf("reset link not found:\n%s", msgs[0].Body)
	}

	_, err = f.svc.ConfirmPasswordReset(ctx, ResetConfirm{UID: m[1], Token: "bogus", NewPassword1: "n", NewPassword2: "n"})
	if fields := fieldsOf(t, err); !reflect.DeepEqual(fields, map[string][]string{"token": {msgInvalidValue}}) {
		t.Fatalf("bad token errors %v", fields)
	}
	_, err = f.svc.ConfirmPasswordReset(ctx, ResetConfirm{UID: "zz!", Token: m[2], NewPassword1: "n", NewPassword2: "n"})
	if fields := fieldsOf(t, err); !reflect.DeepEqual(fields, map[string][]string{"uid": {msgInvalidValue}}) {
		t.Fatalf("bad uid errors %v", fields)
	}

	if _, err := f.svc.ConfirmPasswordReset(ctx, ResetConfirm{UID: m[1], Token: m[2], NewPassword1: "fresh", NewPassword2: "fresh"}); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "testuser", "fresh"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
	_, err = f.svc.ConfirmPasswordReset(ctx, ResetConfirm{UID: m[1], Token: m[2], NewPassword1: "again", NewPassword2: "again"})
	if fields := fieldsOf(t, err); fields["token"] == nil {
		t.Fatalf("reused reset token accepted: %v", fields)
	}
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t, Registration{Username: "other", Email: "other@email.com", Password1: "pw", Password2: "pw"})
	u := f.register(t, Registration{Email: "me@email.com", Password1: "pw", Password2: "pw"})

	first := "Test"
	if err := f.svc.UpdateDetails(ctx, u, DetailsUpdate{FirstName: &first}, true); err != nil {
		t.Fatalf("partial update: %v", err)
	}
	if err := f.svc.UpdateDetails(ctx, u, DetailsUpdate{FirstName: &first}, false); fieldsOf(t, err)["username"] == nil {
		t.Fatalf("full update without username accepted")
	}
	taken := "other"
	if err := f.svc.UpdateDetails(ctx, u, DetailsUpdate{Username: &taken}, true); fieldsOf(t, err)["username"][0] != msgUsernameTaken {
		t.Fatalf("duplicate username accepted")
	}
	name, email := "renamed", "renamed@email.com"
	if err := f.svc.UpdateDetails(ctx, u, DetailsUpdate{Username: &name, Email: &email}, false); err != nil {
		t.Fatalf("full update: %v", err)
	}
	stored, _ := f.svc.User(ctx, u.ID)
	if stored.Username != "renamed" || stored.Email != "renamed@email.com" || stored.FirstName != "Test" {
		t.Fatalf("unexpected stored user: %+v", stored)
	}
}

func TestUIDRoundTrip(t *testing.T) {
	for _, id := range []uint{1, 35, 36, 123456} {
		got, err := DecodeUID(EncodeUID(id))
		if err != nil || got != id {
			t.Fatalf("DecodeUID(EncodeUID(%d)) = %d, %v", id, got, err)
		}
	}
	if _, err := DecodeUID("0"); err == nil {
		t.Fatalf("uid 0 accepted")
	}
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	u := f.register(t, Registration{Email: "purge@email.com", Password1: "pw", Password2: "pw"})
	if err := f.svc.RequestPasswordReset(ctx, testSite, u.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	resets, confirmations, err := f.svc.PurgeExpired(ctx)
	if err != nil || resets != 0 || confirmations != 0 {
		t.Fatalf("fresh purge = %d, %d, %v", resets, confirmations, err)
	}

	f.svc.now = func() time.Time { return time.Now().Add(4 * 24 * time.Hour) }
	resets, confirmations, err = f.svc.PurgeExpired(ctx)
	if err != nil || resets != 1 || confirmations != 1 {
		t.Fatalf("stale purge = %d, %d, %v", resets, confirmations, err)
	}
	var n int64
	f.db.Model(&models.EmailAddress{}).Count(&n)
	if n != 1 {
		t.Fatalf("purge removed the address itself")
	}
}

func TestAuthenticateTriesEveryOwnerOfAddress(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, Registration{Email: "a@e.com", Password1: "pw-a", Password2: "pw-a"})
	second := f.register(t, Registration{Email: "b@e.com", Password1: "pw-b", Password2: "pw-b"})
	// rows written before uniqueness was enforced on detail updates
	f.db.Model(first).Update("email", "b@e.com")

	got, err := f.svc.Authenticate(ctx, "b@e.com", "pw-b")
	if err != nil || got.ID != second.ID {
		t.Fatalf("Authenticate(b@e.com) = %+v, %v", got, err)
	}
	got, err = f.svc.Authenticate(ctx, "b@e.com", "pw-a")
	if err != nil || got.ID != first.ID {
		t.Fatalf("Authenticate with first password = %+v, %v", got, err)
	}
}

func TestUpdateDetailsRejectsTakenEmail(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, Registration{Email: "a@e.com", Password1: "pw", Password2: "pw"})
	f.register(t, Registration{Email: "b@e.com", Password1: "pw", Password2: "pw"})

	taken := "b@e.com"
	err := f.svc.UpdateDetails(ctx, first, DetailsUpdate{Email: &taken}, true)
	if fields := fieldsOf(t, err); !reflect.DeepEqual(fields, map[string][]string{"email": {msgEmailTaken}}) {
		t.Fatalf("taken email errors %v", fields)
	}
	own := "A@e.com"
	if err := f.svc.UpdateDetails(ctx, first, DetailsUpdate{Email: &own}, true); err != nil {
		t.Fatalf("own address rejected: %v", err)
	}
}
