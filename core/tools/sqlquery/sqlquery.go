// Package sqlquery implements the sql_query tool: a question is turned into
// SQL by a Generator and run read-only against a SQLite database.
package sqlquery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/koscakluka/ema-voice/core/tools"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	Name = "sql_query"

	defaultMaxRows = 50
)

var (
	logger = otelslog.NewLogger("github.com/koscakluka/ema-voice/core/tools/sqlquery")

	ErrNotReadOnly = errors.New("only a single SELECT statement is allowed")

	forbiddenKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum|reindex|truncate)\b`)
	// Quoted strings and identifiers, with doubled quotes as escapes.
	quoted = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|\x60[^\x60]*\x60|\[[^\]]*\]`)
)

type Args struct {
	Question string `json:"question" jsonschema:"description=Question about the data in natural language"`
}

type Answer struct {
	SQL       string           `json:"sql"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}

type Option func(*Tool)

func WithMaxRows(n int) Option {
	return func(t *Tool) { t.maxRows = n }
}

type Tool struct {
	db        *sql.DB
	generator Generator
	maxRows   int
}

// Open opens a SQLite database whose every connection refuses writes.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_query_only=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, generator Generator, opts ...Option) *Tool {
	t := &Tool{db: db, generator: generator, maxRows: defaultMaxRows}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Capability() tools.Capability {
	return tools.MustNewFunc("Answer a question by querying the SQL database. Returns the generated query and its rows.",
		func(ctx context.Context, args Args) (any, error) { return t.Ask(ctx, args.Question) })
}

// Schema describes the tables of the database as their CREATE statements.
func (t *Tool) Schema(ctx context.Context) (string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var statements []string
	for rows.Next() {
		var statement sql.NullString
		if err := rows.Scan(&statement); err != nil {
			return "", fmt.Errorf("failed to scan schema: %w", err)
		}
		if statement.Valid {
			statements = append(statements, statement.String+";")
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	return strings.Join(statements, "\n"), nil
}

func (t *Tool) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("empty question")
	}

	schema, err := t.Schema(ctx)
	if err != nil {
		return nil, err
	}
	query, err := t.generator.GenerateSQL(ctx, question, schema)
	if err != nil {
		return nil, err
	}
	query, err = ValidateReadOnly(query)
	if err != nil {
		return nil, err
	}
	logger.Info("running generated query", "sql", query)

	return t.run(ctx, query)
}

func (t *Tool) run(ctx context.Context, query string) (*Answer, error) {
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	answer := &Answer{SQL: query, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(answer.Rows) == t.maxRows {
			answer.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		answer.Rows = append(answer.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return answer, nil
}

// ValidateReadOnly accepts a single SELECT (or WITH ... SELECT) statement
// and returns it without the trailing semicolon.
func ValidateReadOnly(query string) (string, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSpace(strings.TrimRight(query, ";"))
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", ErrNotReadOnly)
	}
	// Literals may contain anything, only the statement text is checked.
	statement := quoted.ReplaceAllString(query, "''")
	if strings.Contains(statement, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}

	lower := strings.ToLower(query)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", fmt.Errorf("%w: got %q", ErrNotReadOnly, firstWord(query))
	}
	if keyword := forbiddenKeywords.FindString(statement); keyword != "" {
		return "", fmt.Errorf("%w: contains %s", ErrNotReadOnly, strings.ToUpper(keyword))
	}
	return query, nil
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
