package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models certline.yml. It is loaded once at startup and treated as
// immutable afterwards; secrets (API token, SMTP credentials, JWT secret) come
// from the environment, never from this file.
type Config struct {
	Template struct {
		Presentation string `yaml:"presentation"`
		Placeholder  string `yaml:"placeholder"`
	} `yaml:"template"`
	Destination struct {
		Folder string `yaml:"folder"`
	} `yaml:"destination"`
	Roster struct {
		Spreadsheet string `yaml:"spreadsheet"`
		Sheet       string `yaml:"sheet"`
		Columns     struct {
			Name        string `yaml:"name"`
			Email       string `yaml:"email"`
			Certificate string `yaml:"certificate"`
		} `yaml:"columns"`
	} `yaml:"roster"`
	Mail struct {
		SenderName string `yaml:"sender_name"`
		Subject    string `yaml:"subject"`
		HTMLBody   string `yaml:"html_body"`
	} `yaml:"mail"`
	Policy struct {
		DiscardCopy bool `yaml:"discard_copy"`
		KeepGoing   bool `yaml:"keep_going"`
	} `yaml:"policy"`
	API struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "certline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with certline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Template.Presentation == "" {
		return fmt.Errorf("config.template.presentation is required")
	}
	if c.Template.Placeholder == "" {
		return fmt.Errorf("config.template.placeholder is required")
	}
	if c.Destination.Folder == "" {
		return fmt.Errorf("config.destination.folder is required")
	}
	if c.Roster.Spreadsheet == "" {
		return fmt.Errorf("config.roster.spreadsheet is required")
	}
	if c.Roster.Sheet == "" {
		return fmt.Errorf("config.roster.sheet is required")
	}
	if c.Roster.Columns.Name == "" {
		return fmt.Errorf("config.roster.columns.name is required")
	}
	if c.Roster.Columns.Email == "" {
		return fmt.Errorf("config.roster.columns.email is required")
	}
	if c.Roster.Columns.Certificate == "" {
		return fmt.Errorf("config.roster.columns.certificate is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	return nil
}

// Default returns the default Config for a workspace api base URL.
func Default(baseURL string) *Config {
	cfg, _ := FromYAML([]byte(GenerateDefault(baseURL)))
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(baseURL string) string {
	return fmt.Sprintf(defaultTemplate, baseURL)
}

const defaultTemplate = `template:
  presentation: template-presentation-id
  placeholder: "{{name}}"

destination:
  folder: destination-folder-id

roster:
  spreadsheet: roster-spreadsheet-id
  sheet: Recipients
  columns:
    name: Name
    email: Email
    certificate: Certificate

mail:
  sender_name: Certificates
  subject: ""
  html_body: ""

policy:
  discard_copy: true
  keep_going: false

api:
  base_url: %s
`
