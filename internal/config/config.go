// Package config loads the pipeline configuration from YAML with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Pipeline behavior and output layout
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Prompt template paths
	Prompts PromptsConfig `yaml:"prompts"`

	// Content matrix
	Roles      []RoleConfig     `yaml:"target_roles"`
	Industries []IndustryConfig `yaml:"target_industries"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation providers and retry behavior.
type LLMConfig struct {
	PrimaryProvider  string `yaml:"primary_provider"`
	FallbackProvider string `yaml:"fallback_provider"` // empty disables fallback

	MaxRetries     int    `yaml:"max_retries"`
	RetryDelay     string `yaml:"retry_delay"`
	RequestTimeout string `yaml:"request_timeout"`

	Gemini    ProviderConfig `yaml:"gemini"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig holds per-provider settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// PipelineConfig configures stage behavior and the output tree.
type PipelineConfig struct {
	OutputBaseDir    string `yaml:"output_base_dir"`
	SubPromptsDir    string `yaml:"subprompts_dir"`
	AnswersDir       string `yaml:"answers_dir"`
	ConversationsDir string `yaml:"conversations_dir"`
	StateDB          string `yaml:"state_db"`
	UsageFile        string `yaml:"usage_file"`

	AnswersPerQuestion   int    `yaml:"answers_per_question"`
	IndustryDistribution string `yaml:"industry_distribution"` // cycle, random, balanced
	APIDelay             string `yaml:"api_delay"`
	MaxAttempts          int    `yaml:"max_attempts"`

	SubPromptMaxTokens    int     `yaml:"subprompt_max_tokens"`
	AnswerMaxTokens       int     `yaml:"answer_max_tokens"`
	ConversationMaxTokens int     `yaml:"conversation_max_tokens"`
	Temperature           float64 `yaml:"temperature"`
}

// PromptsConfig holds the template paths, one per stage.
type PromptsConfig struct {
	SubPromptTemplate    string `yaml:"subprompt_template"`
	StarAnswerTemplate   string `yaml:"star_answer_template"`
	ConversationTemplate string `yaml:"conversation_template"`
}

// RoleConfig describes one target role and its interview questions.
type RoleConfig struct {
	Name         string           `yaml:"name"`
	Abbreviation string           `yaml:"abbreviation"`
	SkillsFile   string           `yaml:"skills_file"`
	Questions    []QuestionConfig `yaml:"interview_questions"`
}

// QuestionConfig is one interview question with its stable id.
type QuestionConfig struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// IndustryConfig describes one target industry.
type IndustryConfig struct {
	Name         string `yaml:"name"`
	Abbreviation string `yaml:"abbreviation"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ValidProviders lists the supported generation providers.
var ValidProviders = []string{"gemini", "anthropic"}

// ValidDistributions lists the industry distribution modes.
var ValidDistributions = []string{"cycle", "random", "balanced"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			PrimaryProvider:  "gemini",
			FallbackProvider: "anthropic",
			MaxRetries:       3,
			RetryDelay:       "2s",
			RequestTimeout:   "120s",
			Gemini: ProviderConfig{
				Model: "gemini-2.5-pro",
			},
			Anthropic: ProviderConfig{
				Model: "claude-3-7-sonnet-20250219",
			},
		},
		Pipeline: PipelineConfig{
			OutputBaseDir:         "generated_answers",
			SubPromptsDir:         "sub_prompts",
			AnswersDir:            "star_answers",
			ConversationsDir:      "conversations",
			StateDB:               "processing_state.db",
			UsageFile:             "usage.json",
			AnswersPerQuestion:    3,
			IndustryDistribution:  "cycle",
			APIDelay:              "2s",
			MaxAttempts:           3,
			SubPromptMaxTokens:    4000,
			AnswerMaxTokens:       4000,
			ConversationMaxTokens: 4000,
			Temperature:           0.7,
		},
		Prompts: PromptsConfig{
			SubPromptTemplate:    "prompt_templates/stage1_subprompt_generator.md",
			StarAnswerTemplate:   "prompt_templates/stage2_star_answer_generator.md",
			ConversationTemplate: "prompt_templates/stage3_conversational_transformer.md",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides for credentials.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.Gemini.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
}

// Validate checks that the configuration can drive a run. Configuration
// errors are fatal at startup, before any ledger or provider activity.
func (c *Config) Validate() error {
	if !validName(c.LLM.PrimaryProvider, ValidProviders) {
		return fmt.Errorf("invalid primary provider: %s (valid: %v)", c.LLM.PrimaryProvider, ValidProviders)
	}
	if c.LLM.FallbackProvider != "" && !validName(c.LLM.FallbackProvider, ValidProviders) {
		return fmt.Errorf("invalid fallback provider: %s (valid: %v)", c.LLM.FallbackProvider, ValidProviders)
	}
	if c.providerKey(c.LLM.PrimaryProvider) == "" {
		return fmt.Errorf("no API key configured for primary provider %s (set GEMINI_API_KEY or ANTHROPIC_API_KEY)", c.LLM.PrimaryProvider)
	}
	if !validName(c.Pipeline.IndustryDistribution, ValidDistributions) {
		return fmt.Errorf("invalid industry distribution: %s (valid: %v)", c.Pipeline.IndustryDistribution, ValidDistributions)
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("no target roles configured")
	}
	if len(c.Industries) == 0 {
		return fmt.Errorf("no target industries configured")
	}
	return nil
}

func validName(name string, valid []string) bool {
	for _, v := range valid {
		if name == v {
			return true
		}
	}
	return false
}

func (c *Config) providerKey(provider string) string {
	switch provider {
	case "gemini":
		return c.LLM.Gemini.APIKey
	case "anthropic":
		return c.LLM.Anthropic.APIKey
	}
	return ""
}

// Provider returns the provider block for a provider name.
func (c *Config) Provider(name string) ProviderConfig {
	switch name {
	case "gemini":
		return c.LLM.Gemini
	case "anthropic":
		return c.LLM.Anthropic
	}
	return ProviderConfig{}
}

// GetRetryDelay returns the base backoff delay.
func (c *Config) GetRetryDelay() time.Duration {
	d, err := time.ParseDuration(c.LLM.RetryDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetRequestTimeout returns the per-request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.RequestTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetAPIDelay returns the fixed inter-item delay between generation calls.
func (c *Config) GetAPIDelay() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.APIDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// StateDBPath returns the ledger database location.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Pipeline.OutputBaseDir, c.Pipeline.StateDB)
}

// UsageFilePath returns the usage tracker location.
func (c *Config) UsageFilePath() string {
	return filepath.Join(c.Pipeline.OutputBaseDir, c.Pipeline.UsageFile)
}

// SubPromptsPath returns the stage 1 output directory.
func (c *Config) SubPromptsPath() string {
	return filepath.Join(c.Pipeline.OutputBaseDir, c.Pipeline.SubPromptsDir)
}

// AnswersPath returns the stage 2 output directory.
func (c *Config) AnswersPath() string {
	return filepath.Join(c.Pipeline.OutputBaseDir, c.Pipeline.AnswersDir)
}

// ConversationsPath returns the stage 3 output directory.
func (c *Config) ConversationsPath() string {
	return filepath.Join(c.Pipeline.OutputBaseDir, c.Pipeline.ConversationsDir)
}

// Slug returns the lowercase identifier used in work item ids and filenames.
func (r RoleConfig) Slug() string {
	if r.Abbreviation != "" {
		return strings.ToLower(r.Abbreviation)
	}
	return slugify(r.Name)
}

// DisplayName returns the role name with its abbreviation, as used in prompts.
func (r RoleConfig) DisplayName() string {
	if r.Abbreviation != "" {
		return fmt.Sprintf("%s (%s)", r.Name, r.Abbreviation)
	}
	return r.Name
}

// Slug returns the lowercase identifier used in work item ids and filenames.
func (i IndustryConfig) Slug() string {
	if i.Abbreviation != "" {
		return strings.ToLower(i.Abbreviation)
	}
	return slugify(i.Name)
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " / ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	return s
}
