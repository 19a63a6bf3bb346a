package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/studiumlab/atelier/internal/comfy"
	"github.com/studiumlab/atelier/internal/domain"
	"github.com/studiumlab/atelier/internal/infra"
	"github.com/studiumlab/atelier/internal/orchestrator"
	"github.com/studiumlab/atelier/internal/workflow"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	var (
		positive   = flag.String("positive", "", "positive prompt text")
		negative   = flag.String("negative", "", "negative prompt text")
		imagePath  = flag.String("image", "", "conditioning image file (switches to img2img mode)")
		styleIDs   = flag.String("styles", "", "comma-separated style ids to splice into the prompts")
		seed       = flag.String("seed", "", "fixed seed value (default: random)")
		quality    = flag.Int("quality", domain.DefaultQualityPercent, "quality percent in [0,100]")
		definition = flag.Int("definition", domain.DefaultDefinitionPercent, "definition percent in [0,100]")
		format     = flag.String("format", string(domain.FormatSquare), "output format: square, portrait or landscape")
	)
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if strings.TrimSpace(*positive) == "" {
		logger.Fatal().Msg("a -positive prompt is required")
	}

	clientID := uuid.NewString()
	sessionFolder := fmt.Sprintf("%s_%s", cfg.SessionFolderPrefix, clientID[:8])

	client, err := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.BackendBaseURL,
		RequestTimeout: cfg.HTTPTimeout,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build backend client")
	}

	store := workflow.NewStore(workflow.StoreOptions{
		BaseURL: cfg.TemplateBaseURL,
		Logger:  &logger,
	})
	mutator := workflow.NewMutator(workflow.MutatorOptions{
		SessionFolder: sessionFolder,
	})
	verifier := orchestrator.NewVerifier(orchestrator.VerifierOptions{
		Fetcher:    client,
		RetryDelay: cfg.VerifyRetryDelay,
		Logger:     &logger,
	})

	engine, err := orchestrator.NewEngine(orchestrator.Options{
		ClientID:         clientID,
		Loader:           store,
		Mutator:          mutator,
		Submitter:        client,
		Verifier:         verifier,
		JobTimeout:       cfg.JobTimeout,
		CompletionLinger: cfg.CompletionLinger,
		Logger:           &logger,
		OnProgress: func(update domain.ProgressUpdate) {
			logger.Info().
				Str("stage", string(update.Stage)).
				Float64("percent", update.Percent).
				Msg("progress")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info().Msg("interrupted")
		cancel()
	}()

	channel, err := comfy.Dial(ctx, clientID, comfy.ChannelOptions{
		URL:            cfg.BackendWSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect event channel")
	}
	defer channel.Close()
	go engine.Run(ctx, channel.Events())

	input := orchestrator.GenerateInput{
		Mode:         domain.ModeText2Img,
		PositiveText: *positive,
		NegativeText: *negative,
		Settings: domain.SettingsSnapshot{
			SeedMode:          domain.SeedModeRandom,
			SeedValue:         *seed,
			QualityPercent:    *quality,
			DefinitionPercent: *definition,
			OutputFormat:      domain.OutputFormat(*format),
		},
	}
	if *seed != "" {
		input.Settings.SeedMode = domain.SeedModeFixed
	}
	if *styleIDs != "" {
		input.StyleIDs = strings.Split(*styleIDs, ",")
	}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *imagePath).Msg("failed to read conditioning image")
		}
		input.Mode = domain.ModeImg2Img
		input.ConditioningImage = &orchestrator.ImageFile{
			Name: filepath.Base(*imagePath),
			Data: data,
		}
	}

	result, err := engine.Generate(ctx, input)
	if err != nil {
		logger.Fatal().Err(err).Msg("generation failed")
	}

	for _, artifact := range result.Artifacts {
		if artifact.OK {
			fmt.Println(artifact.URL)
		} else {
			logger.Warn().
				Err(artifact.Err).
				Str("filename", artifact.Artifact.Filename).
				Msg("artifact never became retrievable")
		}
	}
	if !result.Succeeded() {
		os.Exit(1)
	}
}
