package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBulkUpsertUsersJSON(t *testing.T) {
	env := newTestEnv(t)
	h := BulkUpsertUsersHandler(env.dbh)

	body, _ := json.Marshal([]userRow{
		{Username: "newstudent", Role: "student", Password: "secret1"},
		{ID: "stu1", Username: "student1", Role: "student", DisplayName: "Student One"}, // existing, no password
	})
	req := httptest.NewRequest("POST", "/users/bulk", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["inserted"] != 1 || resp["updated"] != 1 {
		t.Fatalf("counts %v, want 1 inserted / 1 updated", resp)
	}

	var name string
	if err := env.dbh.QueryRow(`SELECT display_name FROM users WHERE id='stu1'`).Scan(&name); err != nil {
		t.Fatal(err)
	}
	if name != "Student One" {
		t.Fatalf("display name %q", name)
	}
}

func TestBulkUpsertNewUserNeedsPassword(t *testing.T) {
	env := newTestEnv(t)
	h := BulkUpsertUsersHandler(env.dbh)

	body, _ := json.Marshal([]userRow{{Username: "ghost", Role: "student"}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/users/bulk", bytes.NewReader(body)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", rec.Code)
	}
}

func TestParseUserCSV(t *testing.T) {
	csv := strings.Join([]string{
		"username,role,password,display_name",
		"alice,student,pw1,Alice A",
		"bob,TEACHER,pw2,",
	}, "\n")
	rows, err := parseUserCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("%d rows", len(rows))
	}
	if rows[0].Username != "alice" || rows[0].DisplayName != "Alice A" {
		t.Fatalf("row 0: %+v", rows[0])
	}
	if rows[1].Role != "teacher" { // roles are folded to lower case
		t.Fatalf("row 1 role %q", rows[1].Role)
	}

	if _, err := parseUserCSV(strings.NewReader("id,role\n1,student")); err == nil {
		t.Fatal("missing username column must fail")
	}
}
