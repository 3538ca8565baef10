package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Spreadsheet struct {
	Key       string `yaml:"key"`
	Path      string `yaml:"path"`
	Normalize bool   `yaml:"normalize"`
}

type Config struct {
	LLM struct {
		Provider  string `yaml:"provider"`
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`

		// Pointers keep an explicit 0 apart from an unset value.
		Temperature       *float64 `yaml:"temperature"`
		RefineTemperature *float64 `yaml:"refine_temperature"`
		SystemPrompt      string   `yaml:"system_prompt"`
		Encoding          string   `yaml:"encoding"`
	} `yaml:"llm"`

	Budget struct {
		StreamLimit int `yaml:"stream_limit"`
		RefineLimit int `yaml:"refine_limit"`
	} `yaml:"budget"`

	Retry struct {
		MaxRetries   int  `yaml:"max_retries"`
		DelaySeconds *int `yaml:"delay_seconds"`
	} `yaml:"retry"`

	Processor struct {
		RowsPerChunk int `yaml:"rows_per_chunk"`
	} `yaml:"processor"`

	Table struct {
		MarkerClass string `yaml:"marker_class"`
		Stylesheet  string `yaml:"stylesheet"`
	} `yaml:"table"`

	Source struct {
		UploadKey      string  `yaml:"upload_key"`
		RateLimit      float64 `yaml:"rate_limit"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"source"`

	Spreadsheets []Spreadsheet `yaml:"spreadsheets"`

	Server struct {
		Addr      string  `yaml:"addr"`
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
	} `yaml:"server"`

	UI struct {
		Mode      string `yaml:"mode"`
		ShowChain bool   `yaml:"show_chain"`
	} `yaml:"ui"`
}

const (
	ModeStream = "stream"
	ModeRefine = "refine"
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/sheetqa/config.yaml"),
			"/etc/sheetqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.BaseURL == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = "http://localhost:11434"
		} else {
			config.LLM.BaseURL = "http://localhost:8000/v1"
		}
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistralai/Mistral-Nemo-Instruct-2407"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 512
	}
	if config.LLM.Temperature == nil {
		temperature := 0.9
		config.LLM.Temperature = &temperature
	}
	if config.LLM.RefineTemperature == nil {
		refineTemperature := 0.7
		config.LLM.RefineTemperature = &refineTemperature
	}
	if config.LLM.Encoding == "" {
		config.LLM.Encoding = "cl100k_base"
	}

	if config.Budget.StreamLimit == 0 {
		config.Budget.StreamLimit = 199000
	}
	if config.Budget.RefineLimit == 0 {
		config.Budget.RefineLimit = 128000
	}

	if config.Retry.MaxRetries == 0 {
		config.Retry.MaxRetries = 3
	}
	if config.Retry.DelaySeconds == nil {
		delay := 20
		config.Retry.DelaySeconds = &delay
	}

	if config.Processor.RowsPerChunk == 0 {
		config.Processor.RowsPerChunk = 1
	}

	if config.Table.MarkerClass == "" {
		config.Table.MarkerClass = "waffle"
	}
	if config.Table.Stylesheet == "" {
		config.Table.Stylesheet = "resources/sheet.css"
	}

	if config.Source.UploadKey == "" {
		config.Source.UploadKey = "My Own"
	}
	if config.Source.RateLimit == 0 {
		config.Source.RateLimit = 2.0
	}
	if config.Source.TimeoutSeconds == 0 {
		config.Source.TimeoutSeconds = 30
	}
	if len(config.Spreadsheets) == 0 {
		config.Spreadsheets = []Spreadsheet{
			{Key: "Spreadsheet 45x50", Path: "data/html/meta.html"},
			{Key: "Retrieval Pricing", Path: "data/html/retrieval.html", Normalize: true},
			{Key: "Titanic Truncated", Path: "data/html/titanic_truncated.html", Normalize: true},
		}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.RateLimit == 0 {
		config.Server.RateLimit = 1.0
	}
	if config.Server.Burst == 0 {
		config.Server.Burst = 4
	}

	if config.UI.Mode == "" {
		config.UI.Mode = ModeStream
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("SHEETQA_LLM_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("SHEETQA_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if model := os.Getenv("SHEETQA_MODEL"); model != "" {
		config.LLM.Model = model
	}
}
