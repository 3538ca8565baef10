package main

import (
	"flag"
	"fmt"
	"log"

	cfgPkg "github.com/xhad/sheetqa/pkg/config"
)

type Config struct {
	Settings    *cfgPkg.Config
	Spreadsheet string
	Upload      string
	Serve       bool
}

func main() {
	config, err := parseFlags()
	if err != nil {
		log.Fatal(err)
	}

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (Config, error) {
	var (
		config       Config
		configPath   string
		llmURL       string
		model        string
		provider     string
		mode         string
		rowsPerChunk int
		showChain    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&llmURL, "llm-url", "", "LLM server URL (OpenAI compatible or Ollama)")
	flag.StringVar(&model, "model", "", "LLM model to use")
	flag.StringVar(&provider, "provider", "", "LLM provider: openai or ollama")
	flag.StringVar(&config.Spreadsheet, "spreadsheet", "", "Spreadsheet to ask about")
	flag.StringVar(&config.Upload, "upload", "", "Path or URL of your own spreadsheet HTML")
	flag.StringVar(&mode, "mode", "", "Answer mode: stream or refine")
	flag.IntVar(&rowsPerChunk, "rows-per-chunk", 0, "Rows per chunk in refine mode")
	flag.BoolVar(&showChain, "show-chain", false, "Print every refine step with its changes")
	flag.BoolVar(&config.Serve, "serve", false, "Start the WebSocket server instead of the interactive prompt")
	flag.Parse()

	settings, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return config, err
	}

	// Command line flags override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "llm-url":
			settings.LLM.BaseURL = llmURL
		case "model":
			settings.LLM.Model = model
		case "provider":
			settings.LLM.Provider = provider
		case "mode":
			settings.UI.Mode = mode
		case "rows-per-chunk":
			settings.Processor.RowsPerChunk = rowsPerChunk
		case "show-chain":
			settings.UI.ShowChain = showChain
		}
	})

	if errs := settings.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("config: %v", e)
		}
		return config, fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	config.Settings = settings
	return config, nil
}
