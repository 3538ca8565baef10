package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/sheetqa/internal/models"
	"github.com/xhad/sheetqa/internal/types"
	cfgPkg "github.com/xhad/sheetqa/pkg/config"
	"github.com/xhad/sheetqa/pkg/llm"
	"github.com/xhad/sheetqa/pkg/processor"
	"github.com/xhad/sheetqa/pkg/report"
	"github.com/xhad/sheetqa/pkg/source"
	"github.com/xhad/sheetqa/pkg/table"
	"github.com/xhad/sheetqa/server"
)

var (
	userPrompt      = color.New(color.FgGreen).PrintfFunc()
	assistantPrompt = color.New(color.FgCyan).PrintfFunc()
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func catalog(sheets []cfgPkg.Spreadsheet) map[string]source.Entry {
	entries := make(map[string]source.Entry, len(sheets))
	for _, s := range sheets {
		entries[s.Key] = source.Entry{Path: s.Path, Normalize: s.Normalize}
	}
	return entries
}

func run(config Config) error {
	settings := config.Settings

	retryDelay := time.Duration(*settings.Retry.DelaySeconds) * time.Second

	// Initialize components
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:          settings.LLM.Provider,
		Model:             settings.LLM.Model,
		BaseURL:           settings.LLM.BaseURL,
		APIKey:            settings.LLM.APIKey,
		Temperature:       settings.LLM.Temperature,
		RefineTemperature: settings.LLM.RefineTemperature,
		MaxTokens:         settings.LLM.MaxTokens,
		SystemTemplate:    settings.LLM.SystemPrompt,
		StreamTokenLimit:  settings.Budget.StreamLimit,
		RefineTokenLimit:  settings.Budget.RefineLimit,
		Counter:           llm.NewTiktokenCounter(settings.LLM.Encoding),
		MaxRetries:        settings.Retry.MaxRetries,
		RetryDelay:        &retryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	loader := source.NewWithConfig(source.LoaderConfig{
		Catalog:   catalog(settings.Spreadsheets),
		UploadKey: settings.Source.UploadKey,
		RateLimit: settings.Source.RateLimit,
		Timeout:   time.Duration(settings.Source.TimeoutSeconds) * time.Second,
		Normalizer: table.NewWithConfig(table.NormalizerConfig{
			MarkerClass: settings.Table.MarkerClass,
			Stylesheet:  settings.Table.Stylesheet,
		}),
	})

	splitter := processor.NewWithConfig(processor.ProcessorConfig{
		RowsPerChunk: settings.Processor.RowsPerChunk,
	})

	if config.Serve {
		srv := server.NewWSServer(server.Config{
			Addr:        settings.Server.Addr,
			RateLimit:   settings.Server.RateLimit,
			Burst:       settings.Server.Burst,
			DefaultMode: settings.UI.Mode,
		}, chatEngine, loader, &splitter, table.ExtractHeaders)
		return srv.ListenAndServe()
	}

	ctx := context.Background()

	key := config.Spreadsheet
	if key == "" {
		if config.Upload != "" {
			key = settings.Source.UploadKey
		} else {
			key = loader.Keys()[0]
		}
	}

	loadSpinner := getSpinner(fmt.Sprintf(" Loading %s...", key))
	sheet, err := loader.Load(ctx, key, config.Upload)
	loadSpinner.Finish()
	if err != nil {
		color.Red("\nAvailable spreadsheets: %s", strings.Join(loader.Keys(), ", "))
		return err
	}
	color.Green("\n✓ Loaded %s", sheet.Key)

	// Interactive chat loop with colored output
	color.Cyan("\nAsk questions about %s in %s mode (type 'exit' to quit)", sheet.Key, settings.UI.Mode)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		if settings.UI.Mode == cfgPkg.ModeRefine {
			err = refineAnswer(ctx, chatEngine, &splitter, sheet, question, settings.UI.ShowChain)
		} else {
			err = streamAnswer(ctx, chatEngine, sheet, question)
		}

		if errors.Is(err, llm.ErrBudgetExceeded) {
			color.Red("\nThe spreadsheet is too big to be processed: %v\n", err)
		} else if err != nil {
			color.Red("\nError: %v\n", err)
		}
	}

	return nil
}

func streamAnswer(ctx context.Context, answerer types.Answerer, sheet *models.Spreadsheet, question string) error {
	stream, err := answerer.ChatStream(ctx, sheet.HTML, question)
	if err != nil {
		return err
	}

	fmt.Print("\n")
	assistantPrompt("Assistant: ")

	// Create and start the spinner
	responseSpinner := getSpinner(" Thinking...")
	firstChunk := true
	attempt := 1

	for update := range stream {
		if update.Done {
			if update.Status == models.StreamRetriesExhausted {
				color.Yellow("\nNo answer from the model, giving up.")
			}
			break
		}

		// Clear spinner on first chunk
		if firstChunk {
			responseSpinner.Finish()
			firstChunk = false
			fmt.Print("\n\n")
		}

		if update.Attempt != attempt {
			attempt = update.Attempt
			color.Yellow("\n[attempt %d]\n", attempt)
		}
		fmt.Print(update.Delta)
	}

	// Ensure spinner is finished in case of early exit
	if firstChunk {
		responseSpinner.Finish()
	}
	fmt.Print("\n")
	return nil
}

func refineAnswer(ctx context.Context, answerer types.Answerer, splitter types.Splitter, sheet *models.Spreadsheet, question string, showChain bool) error {
	headers, err := table.ExtractHeaders(sheet.HTML)
	if err != nil {
		return err
	}
	chunks, err := splitter.Process(sheet.HTML)
	if err != nil {
		return err
	}

	bar := getProgressBar(len(chunks), " Refining answer")
	result, err := answerer.Refine(ctx, chunks, headers, question, func(step, total int, answer string) {
		bar.Add(1)
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if showChain {
		printChain(result.Chain)
	}

	assistantPrompt("\nAssistant: %s\n", result.Answer)
	return nil
}

func printChain(chain []string) {
	if len(chain) == 0 {
		return
	}

	color.Blue("\n\nStep 1")
	fmt.Println(chain[0])

	for _, step := range report.ChainDiff(chain) {
		color.Blue("\nStep %d", step.Step+1)
		if !step.Changed {
			color.White("(unchanged)")
			continue
		}
		for _, f := range step.Fragments {
			switch f.Op {
			case report.OpInsert:
				color.New(color.FgGreen).Print(f.Text)
			case report.OpDelete:
				color.New(color.FgRed, color.CrossedOut).Print(f.Text)
			default:
				fmt.Print(f.Text)
			}
		}
		fmt.Print("\n")
	}
}
