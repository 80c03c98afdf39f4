package tools

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const sqlSystemPrompt = `You translate analysis guidance into a single SQL query for the database
schema below. Only SELECT statements (optionally starting with WITH) are
permitted; the query runs against a read-only connection.

Respond with a single JSON object and nothing else:
  {"query": "<sql>", "purpose": "<what the query computes and why>",
   "column_descriptions": {"<column>": "<meaning>"}}`

type sqlGeneration struct {
	Query              string            `json:"query"`
	Purpose            string            `json:"purpose"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
}

// SQLTool generates a SQL query from natural-language guidance and executes
// it, returning the rows as a table response. Execution is restricted to
// SELECT statements.
type SQLTool struct {
	db        *sql.DB
	client    llm.Client
	schemaDoc string
	logger    *slog.Logger
}

// NewSQLTool creates the run_sql tool. schemaDoc describes the database
// schema and is injected into every generation prompt.
func NewSQLTool(db *sql.DB, client llm.Client, schemaDoc string, logger *slog.Logger) *SQLTool {
	return &SQLTool{db: db, client: client, schemaDoc: schemaDoc, logger: logger}
}

func (t *SQLTool) Name() string { return "run_sql" }

func (t *SQLTool) Description() string {
	return "Generate and execute SQL queries based on natural language guidance"
}

func (t *SQLTool) InputSchema() tool.Schema {
	return tool.Schema{
		"guidance": {
			Type:        "string",
			Description: "What you want to calculate or retrieve from the database",
			Required:    true,
		},
	}
}

func (t *SQLTool) Invoke(ctx context.Context, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	guidance, _ := inputs["guidance"].(string)

	prompt := fmt.Sprintf("## Database schema\n%s\n\n%s## Guidance\n%s\n",
		t.schemaDoc, promptContext(snap), guidance)

	var gen sqlGeneration
	if err := completeJSON(ctx, t.client, sqlSystemPrompt, prompt, &gen); err != nil {
		return nil, err
	}
	if err := requireSelectOnly(gen.Query); err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, "sql generated", "query", gen.Query)

	headers, rows, err := t.runQuery(ctx, gen.Query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "execute query: %s", err.Error()).WithCause(err)
	}

	metadata := map[string]any{
		"query":   gen.Query,
		"purpose": gen.Purpose,
	}
	if len(gen.ColumnDescriptions) > 0 {
		metadata["column_descriptions"] = gen.ColumnDescriptions
	}
	description := gen.Purpose
	if description == "" {
		description = "query results"
	}
	return schema.NewTable(headers, rows, description, metadata), nil
}

func (t *SQLTool) runQuery(ctx context.Context, query string) ([]string, []schema.Item, error) {
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []schema.Item
	for rows.Next() {
		values := make([]any, len(headers))
		ptrs := make([]any, len(headers))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		item := make(schema.Item, len(headers))
		for i, h := range headers {
			if b, ok := values[i].([]byte); ok {
				item[h] = string(b)
			} else {
				item[h] = values[i]
			}
		}
		out = append(out, item)
	}
	return headers, out, rows.Err()
}

// requireSelectOnly rejects anything but a single read-only statement.
func requireSelectOnly(query string) error {
	stripped := stripSQLComments(query)
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stripped), ";"))
	if trimmed == "" {
		return schema.NewError(schema.ErrCodeToolExecution, "generated query is empty")
	}
	if strings.Contains(trimmed, ";") {
		return schema.NewError(schema.ErrCodeToolExecution, "generated query contains multiple statements")
	}
	head := strings.ToUpper(trimmed)
	if !strings.HasPrefix(head, "SELECT") && !strings.HasPrefix(head, "WITH") {
		return schema.NewErrorf(schema.ErrCodeToolExecution, "only SELECT queries are allowed, got %q", firstWord(trimmed))
	}
	return nil
}

func stripSQLComments(query string) string {
	var b strings.Builder
	for _, line := range strings.Split(query, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
