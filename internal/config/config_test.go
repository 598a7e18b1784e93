package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gemini", cfg.LLM.PrimaryProvider)
	assert.Equal(t, "anthropic", cfg.LLM.FallbackProvider)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.GetRetryDelay())
	assert.Equal(t, 120*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, "generated_answers", cfg.Pipeline.OutputBaseDir)
	assert.Equal(t, "cycle", cfg.Pipeline.IndustryDistribution)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 0.7, cfg.Pipeline.Temperature)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pipeline.OutputBaseDir, cfg.Pipeline.OutputBaseDir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
llm:
  primary_provider: anthropic
  max_retries: 5
  retry_delay: 1s
pipeline:
  output_base_dir: out
  industry_distribution: balanced
target_roles:
  - name: Test Data Manager
    abbreviation: TDM
    interview_questions:
      - id: q1
        text: Tell me about a time you improved data quality.
target_industries:
  - name: Finance
    abbreviation: FIN
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.PrimaryProvider)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
	assert.Equal(t, time.Second, cfg.GetRetryDelay())
	assert.Equal(t, "out", cfg.Pipeline.OutputBaseDir)
	assert.Equal(t, "balanced", cfg.Pipeline.IndustryDistribution)
	// Untouched sections keep their defaults.
	assert.Equal(t, "processing_state.db", cfg.Pipeline.StateDB)
	require.Len(t, cfg.Roles, 1)
	assert.Equal(t, "tdm", cfg.Roles[0].Slug())
	require.Len(t, cfg.Roles[0].Questions, 1)
	assert.Equal(t, "q1", cfg.Roles[0].Questions[0].ID)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-gemini", cfg.LLM.Gemini.APIKey)
	assert.Equal(t, "env-anthropic", cfg.LLM.Anthropic.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.LLM.Gemini.APIKey = "key"
		cfg.Roles = []RoleConfig{{Name: "Test Data Manager", Abbreviation: "TDM"}}
		cfg.Industries = []IndustryConfig{{Name: "Finance", Abbreviation: "FIN"}}
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("UnknownPrimaryProvider", func(t *testing.T) {
		cfg := valid()
		cfg.LLM.PrimaryProvider = "openai"
		assert.Error(t, cfg.Validate())
	})

	t.Run("MissingPrimaryKey", func(t *testing.T) {
		cfg := valid()
		cfg.LLM.Gemini.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("UnknownDistribution", func(t *testing.T) {
		cfg := valid()
		cfg.Pipeline.IndustryDistribution = "round-robin"
		assert.Error(t, cfg.Validate())
	})

	t.Run("NoRoles", func(t *testing.T) {
		cfg := valid()
		cfg.Roles = nil
		assert.Error(t, cfg.Validate())
	})
}

func TestSlugs(t *testing.T) {
	role := RoleConfig{Name: "Test Data Manager", Abbreviation: "TDM"}
	assert.Equal(t, "tdm", role.Slug())
	assert.Equal(t, "Test Data Manager (TDM)", role.DisplayName())

	noAbbrev := RoleConfig{Name: "Release / Deployment Manager"}
	assert.Equal(t, "release_deployment_manager", noAbbrev.Slug())

	industry := IndustryConfig{Name: "Financial Services", Abbreviation: "FIN"}
	assert.Equal(t, "fin", industry.Slug())
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("generated_answers", "processing_state.db"), cfg.StateDBPath())
	assert.Equal(t, filepath.Join("generated_answers", "sub_prompts"), cfg.SubPromptsPath())
	assert.Equal(t, filepath.Join("generated_answers", "star_answers"), cfg.AnswersPath())
	assert.Equal(t, filepath.Join("generated_answers", "conversations"), cfg.ConversationsPath())
}
