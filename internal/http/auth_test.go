package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"gumroad/internal/domain"
	"gumroad/internal/repos"
)

func TestPasswordsSeededAreHashed(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	var hashes []string
	if err := ta.db.Select(&hashes, `SELECT password_hash FROM users`); err != nil {
		t.Fatalf("select hashes: %v", err)
	}
	if len(hashes) == 0 {
		t.Fatal("no users seeded")
	}
	for _, h := range hashes {
		if strings.Contains(h, repos.DemoPassword) {
			t.Fatalf("hash contains plaintext password")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(h), []byte(repos.DemoPassword)); err != nil {
			t.Fatalf("seed hash does not validate known password: %v", err)
		}
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	s := ta.anonymous(t)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "seller@gumroad.test", "Wr0ng-pass!"},
		{"unknown email", "ghost@gumroad.test", repos.DemoPassword},
		{"malformed email", "not-an-email", repos.DemoPassword},
		{"weak password", "seller@gumroad.test", "short"},
	}
	for _, tc := range cases {
		resp, body := ta.do(t, s, "POST", "/login", map[string]string{"email": tc.email, "password": tc.password})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d", tc.name, resp.StatusCode)
		}
		if decode(t, body)["error_message"] != "Invalid email or password" {
			t.Fatalf("%s: body=%s", tc.name, body)
		}
	}

	resp, body := ta.do(t, s, "POST", "/login", map[string]string{"email": "SELLER@gumroad.test", "password": repos.DemoPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", resp.StatusCode, body)
	}
	user, _ := decode(t, body)["user"].(map[string]any)
	if user["id"] != "u-seller" {
		t.Fatalf("user=%v", user)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	s := ta.login(t, "seller@gumroad.test")

	if resp, _ := ta.do(t, s, "GET", "/products/pencil/duplicate", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("signed in: status=%d", resp.StatusCode)
	}
	if resp, body := ta.do(t, s, "POST", "/logout", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status=%d body=%s", resp.StatusCode, body)
	}
	if resp, _ := ta.do(t, s, "GET", "/products/pencil/duplicate", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("after logout: status=%d", resp.StatusCode)
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	s := ta.login(t, "seller@gumroad.test")
	s.csrf = ""
	resp, _ := ta.do(t, s, "POST", "/products/pencil/duplicate", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want 403", resp.StatusCode)
	}
}

func TestSuspendedSellerIsTurnedAway(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	s := ta.login(t, "seller@gumroad.test")
	users := repos.NewUserRepo(ta.db)
	if err := users.SetRiskState(context.Background(), "u-seller", domain.RiskStateSuspended); err != nil {
		t.Fatal(err)
	}

	if resp, _ := ta.do(t, s, "GET", "/products/pencil/duplicate", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("existing session: status=%d want 401", resp.StatusCode)
	}

	resp, body := ta.do(t, ta.anonymous(t), "POST", "/login", map[string]string{"email": "seller@gumroad.test", "password": repos.DemoPassword})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("login: status=%d body=%s", resp.StatusCode, body)
	}
	if decode(t, body)["error_message"] != "This account has been suspended." {
		t.Fatalf("body=%s", body)
	}

	// A wrong password never reveals the suspension.
	resp, _ = ta.do(t, ta.anonymous(t), "POST", "/login", map[string]string{"email": "seller@gumroad.test", "password": "Wr0ng-pass!"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status=%d", resp.StatusCode)
	}
}

func TestLogoutStoreErrorIsLogged(t *testing.T) {
	ta := newTestApp(t, &captureQueue{}, nil)
	s := ta.login(t, "seller@gumroad.test")
	if _, err := ta.db.Exec(`DROP TABLE sessions`); err != nil {
		t.Fatal(err)
	}

	var status int
	entries := captureLogs(t, func() {
		resp, _ := ta.do(t, s, "POST", "/logout", nil)
		status = resp.StatusCode
	})
	if status != http.StatusOK {
		t.Fatalf("logout: status=%d", status)
	}
	var logged bool
	for _, e := range entries {
		if e.Action == "auth.logout" && e.Level == "error" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("store error not logged: %+v", entries)
	}
}
