package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const emailSystemPrompt = `You compose a professional email from the user's intent and the run state.
Determine the recipient from the guidance or memory, write a clear subject
line and a well-formatted body.

Respond with a single JSON object and nothing else:
  {"recipient": "<email address>", "subject": "...", "body": "...",
   "reasoning": "<brief composition rationale>"}`

type emailComposition struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Reasoning string `json:"reasoning"`
}

// SMTPConfig carries the delivery settings for the email tool.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
}

// SendFunc delivers one composed message. Overridable for testing.
type SendFunc func(ctx context.Context, cfg SMTPConfig, to, subject, body string) error

// EmailTool composes an email with the model and sends it over SMTP.
type EmailTool struct {
	client llm.Client
	cfg    SMTPConfig
	send   SendFunc
	logger *slog.Logger
}

// NewEmailTool creates the send_email tool. A nil send uses plain SMTP.
func NewEmailTool(client llm.Client, cfg SMTPConfig, send SendFunc, logger *slog.Logger) *EmailTool {
	if send == nil {
		send = smtpSend
	}
	return &EmailTool{client: client, cfg: cfg, send: send, logger: logger}
}

func (t *EmailTool) Name() string { return "send_email" }

func (t *EmailTool) Description() string {
	return "Compose and send a professional email based on the current state and guidance"
}

func (t *EmailTool) InputSchema() tool.Schema {
	return tool.Schema{
		"guidance": {
			Type:        "string",
			Description: "What the email should communicate and to whom",
			Required:    true,
		},
		"recipient_hint": {
			Type:        "string",
			Description: "Any hints about who should receive this email",
			Required:    false,
		},
	}
}

func (t *EmailTool) Invoke(ctx context.Context, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	guidance, _ := inputs["guidance"].(string)
	hint, _ := inputs["recipient_hint"].(string)

	prompt := fmt.Sprintf("%s## Email guidance\n%s\n", promptContext(snap), guidance)
	if hint != "" {
		prompt += fmt.Sprintf("\n## Recipient hint\n%s\n", hint)
	}

	var comp emailComposition
	if err := completeJSON(ctx, t.client, emailSystemPrompt, prompt, &comp); err != nil {
		return nil, err
	}
	if err := validateComposition(comp); err != nil {
		return nil, err
	}

	if err := t.send(ctx, t.cfg, comp.Recipient, comp.Subject, comp.Body); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"send email to %s: %s", comp.Recipient, err.Error()).WithCause(err)
	}
	t.logger.InfoContext(ctx, "email sent", "to", comp.Recipient, "subject", comp.Subject)

	return schema.NewText(
		fmt.Sprintf("Email %q sent to %s.", comp.Subject, comp.Recipient),
		"email delivered",
	), nil
}

func validateComposition(c emailComposition) error {
	if !strings.Contains(c.Recipient, "@") {
		return schema.NewErrorf(schema.ErrCodeToolExecution, "invalid recipient address %q", c.Recipient)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return schema.NewError(schema.ErrCodeToolExecution, "composed email has no subject")
	}
	if strings.TrimSpace(c.Body) == "" {
		return schema.NewError(schema.ErrCodeToolExecution, "composed email has no body")
	}
	return nil
}

func smtpSend(_ context.Context, cfg SMTPConfig, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		cfg.From, to, subject, body)
	return smtp.SendMail(addr, auth, cfg.From, []string{to}, []byte(msg))
}
