package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arbor-ai/arbor/internal/scheduler"
)

// Config holds all arbor server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`

	// AnalysisDBPath is the database run_sql queries, as opposed to DBPath
	// which stores arbor's own run history.
	AnalysisDBPath string `json:"analysis_db_path"`
	// SchemaDocPath points at a text description of the analysis database
	// schema, injected into SQL and chart generation prompts.
	SchemaDocPath string `json:"schema_doc_path"`

	MaxSteps           int    `json:"max_steps"`
	DecisionRetries    int    `json:"decision_retries"`
	StepTimeoutSeconds int    `json:"step_timeout_seconds"`
	FatalToolErrors    string `json:"fatal_tool_errors"`

	InterpreterCommand string `json:"interpreter_command"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	SMTPFrom     string `json:"smtp_from"`

	Schedules []scheduler.Schedule `json:"schedules"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4200",
		DBPath:         filepath.Join(arborDir(), "arbor.db"),
		AnalysisDBPath: filepath.Join(arborDir(), "analysis.db"),
		LogLevel:       "info",
		SMTPPort:       587,
	}
}

func arborDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arbor"
	}
	return filepath.Join(home, ".arbor")
}

func settingsPath() string {
	return filepath.Join(arborDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("ARBOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ARBOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ARBOR_ANALYSIS_DB_PATH"); v != "" {
		cfg.AnalysisDBPath = v
	}
	if v := os.Getenv("ARBOR_SCHEMA_DOC_PATH"); v != "" {
		cfg.SchemaDocPath = v
	}
	if v := os.Getenv("ARBOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARBOR_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("ARBOR_DECISION_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DecisionRetries = n
		}
	}
	if v := os.Getenv("ARBOR_STEP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ARBOR_FATAL_TOOL_ERRORS"); v != "" {
		cfg.FatalToolErrors = v
	}
	if v := os.Getenv("ARBOR_INTERPRETER_COMMAND"); v != "" {
		cfg.InterpreterCommand = v
	}
	if v := os.Getenv("ARBOR_SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("ARBOR_SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTPPort = n
		}
	}
	if v := os.Getenv("ARBOR_SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("ARBOR_SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("ARBOR_SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}

	return cfg
}

// schemaDoc loads the analysis schema description, falling back to a stub so
// generation prompts always carry a schema section.
func schemaDoc(cfg Config) string {
	if cfg.SchemaDocPath == "" {
		return "No schema description configured."
	}
	data, err := os.ReadFile(cfg.SchemaDocPath)
	if err != nil {
		return "No schema description configured."
	}
	return string(data)
}
