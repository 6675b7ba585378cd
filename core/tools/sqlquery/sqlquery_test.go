package sqlquery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/koscakluka/ema-voice/core/tools"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, statement := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`INSERT INTO customers (name, city) VALUES ('Ada', 'London'), ('Grace', 'New York'), ('Linus', 'Helsinki')`,
	} {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("unexpected seed error: %v", err)
		}
	}
	return db
}

func TestAskRunsGeneratedQuery(t *testing.T) {
	db := openTestDB(t)

	var seenSchema string
	generator := GeneratorFunc(func(_ context.Context, question, schema string) (string, error) {
		seenSchema = schema
		return "SELECT name FROM customers WHERE city = 'London';", nil
	})

	answer, err := New(db, generator).Ask(context.Background(), "who lives in London?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(seenSchema, "CREATE TABLE customers") {
		t.Fatalf("expected schema to describe customers, got %q", seenSchema)
	}
	if len(answer.Rows) != 1 || answer.Rows[0]["name"] != "Ada" {
		t.Fatalf("expected Ada, got %+v", answer.Rows)
	}
	if answer.SQL != "SELECT name FROM customers WHERE city = 'London'" {
		t.Fatalf("expected trimmed query, got %q", answer.SQL)
	}
}

func TestAskTruncatesRows(t *testing.T) {
	db := openTestDB(t)
	generator := GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "SELECT * FROM customers ORDER BY id", nil
	})

	answer, err := New(db, generator, WithMaxRows(2)).Ask(context.Background(), "everyone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Rows) != 2 || !answer.Truncated {
		t.Fatalf("expected 2 truncated rows, got %d (truncated %v)", len(answer.Rows), answer.Truncated)
	}
}

func TestAskRejectsWrites(t *testing.T) {
	db := openTestDB(t)
	generator := GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "DELETE FROM customers", nil
	})

	if _, err := New(db, generator).Ask(context.Background(), "remove everyone"); !errors.Is(err, ErrNotReadOnly) {
		t.Fatalf("expected ErrNotReadOnly, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&count); err != nil || count != 3 {
		t.Fatalf("expected 3 customers to remain, got %d (%v)", count, err)
	}
}

func TestValidateReadOnly(t *testing.T) {
	cases := []struct {
		query string
		ok    bool
	}{
		{"SELECT 1", true},
		{"  with t as (select 1) select * from t ; ", true},
		{"select * from customers; drop table customers", false},
		{"UPDATE customers SET name = 'x'", false},
		{"select * from customers where 1 = 1 and (delete)", false},
		{"PRAGMA table_info(customers)", false},
		{"SELECT * FROM notes WHERE body LIKE '%update%'", true},
		{"SELECT name FROM customers WHERE city = 'drop; zone'", true},
		{`SELECT "delete" FROM audit WHERE note = 'it''s fine'`, true},
		{"SELECT 'a'; DELETE FROM customers", false},
		{"", false},
	}

	for _, c := range cases {
		_, err := ValidateReadOnly(c.query)
		if c.ok && err != nil {
			t.Fatalf("expected %q to be accepted, got %v", c.query, err)
		}
		if !c.ok && !errors.Is(err, ErrNotReadOnly) {
			t.Fatalf("expected %q to be rejected, got %v", c.query, err)
		}
	}
}

func TestOpenRefusesWritesOnEveryConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	seed, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if _, err := seed.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	seed.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	var conns []*sql.Conn
	for range 3 {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("unexpected conn error: %v", err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	for i, conn := range conns {
		if _, err := conn.ExecContext(ctx, `INSERT INTO customers (name) VALUES ('Ada')`); err == nil {
			t.Fatalf("expected connection %d to refuse writes", i)
		}
		var count int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&count); err != nil {
			t.Fatalf("expected connection %d to read, got %v", i, err)
		}
	}
}

func TestOpenAIGeneratorStripsCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected chat completions path, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"` + "```sql\\nSELECT 1;\\n```" + `"}}]}`))
	}))
	defer server.Close()

	query, err := NewOpenAIGenerator("key", WithBaseURL(server.URL)).GenerateSQL(context.Background(), "one", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query != "SELECT 1;" {
		t.Fatalf("expected unfenced query, got %q", query)
	}
}

func TestCapabilityRunsThroughRegistry(t *testing.T) {
	db := openTestDB(t)
	generator := GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "SELECT COUNT(*) AS total FROM customers", nil
	})

	registry := tools.NewRegistry()
	if err := registry.Register(Name, New(db, generator).Capability()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	result, err := registry.Invoke(context.Background(), Name, json.RawMessage(`{"question":"how many customers?"}`))
	if err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(result.Content), &answer); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(answer.Rows) != 1 || answer.Rows[0]["total"] != float64(3) {
		t.Fatalf("expected total 3, got %+v", answer.Rows)
	}
}
