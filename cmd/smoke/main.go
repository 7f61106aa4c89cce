// Command smoke drives a running helpdesk-api through register, login,
// ticket creation and resolution, failing on the first unexpected response.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"helpdesk.org/internal/ids"
)

type session struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	flags := pflag.NewFlagSet("smoke", pflag.ExitOnError)
	base := flags.String("addr", envOr("HELPDESK_SMOKE_ADDR", "http://localhost:8080"), "API base URL")
	adminEmail := flags.String("admin-email", os.Getenv("HELPDESK_SMOKE_ADMIN"), "email listed in auth.admin_emails")
	_ = flags.Parse(os.Args[1:])

	if *adminEmail == "" {
		fail("an admin email is required (--admin-email or HELPDESK_SMOKE_ADMIN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := &client{base: *base, http: &http.Client{Timeout: 5 * time.Second}}

	suffix := ids.New()
	password := "smoke-" + suffix
	userEmail := fmt.Sprintf("smoke-%s@example.test", suffix)

	var user session
	c.mustDo(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": userEmail, "password": password}, http.StatusCreated, &user)

	var admin session
	adminCreds := map[string]string{"email": *adminEmail, "password": password}
	if code := c.do(ctx, http.MethodPost, "/v1/auth/register", "", adminCreds, &admin); code == http.StatusConflict {
		fail("admin %s already exists; rerun with a fresh admin email", *adminEmail)
	} else if code != http.StatusCreated {
		fail("register admin: status %d", code)
	}
	if admin.User.Role != "admin" {
		fail("%s did not receive the admin role (got %q)", *adminEmail, admin.User.Role)
	}

	var relogin session
	c.mustDo(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": userEmail, "password": password}, http.StatusOK, &relogin)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	c.mustDo(ctx, http.MethodPost, "/v1/tickets", relogin.Token, map[string]string{"title": "smoke " + suffix}, http.StatusCreated, &created)
	if created.Status != "OPEN" {
		fail("new ticket status %q, want OPEN", created.Status)
	}

	var changed struct {
		PreviousStatus string `json:"previous_status"`
		Ticket         struct {
			Status string `json:"status"`
		} `json:"ticket"`
	}
	c.mustDo(ctx, http.MethodPatch, "/v1/tickets/"+created.ID+"/status", admin.Token, map[string]string{"status": "RESOLVED"}, http.StatusOK, &changed)
	if changed.PreviousStatus != "OPEN" || changed.Ticket.Status != "RESOLVED" {
		fail("unexpected transition %s -> %s", changed.PreviousStatus, changed.Ticket.Status)
	}

	fmt.Printf("smoke test passed: user=%s ticket=%s\n", user.User.ID, created.ID)
}

func (c *client) mustDo(ctx context.Context, method, path, token string, body any, want int, out any) {
	if code := c.do(ctx, method, path, token, body, out); code != want {
		fail("%s %s: status %d, want %d", method, path, code, want)
	}
}

func (c *client) do(ctx context.Context, method, path, token string, body, out any) int {
	payload, err := json.Marshal(body)
	if err != nil {
		fail("encode %s: %v", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		fail("build %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fail("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			fail("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "smoke: "+format+"\n", args...)
	os.Exit(1)
}
