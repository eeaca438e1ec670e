package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrsingh-rishi/image-narrator/artifact"
	"github.com/mrsingh-rishi/image-narrator/config"
	"github.com/mrsingh-rishi/image-narrator/gradio"
	"github.com/mrsingh-rishi/image-narrator/inference"
	"github.com/mrsingh-rishi/image-narrator/llm"
	"github.com/mrsingh-rishi/image-narrator/model"
	"github.com/mrsingh-rishi/image-narrator/output"
	"github.com/mrsingh-rishi/image-narrator/pipeline"
	"github.com/mrsingh-rishi/image-narrator/prompt"
	"github.com/mrsingh-rishi/image-narrator/server"
	"github.com/mrsingh-rishi/image-narrator/stt"
	"github.com/mrsingh-rishi/image-narrator/tts"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	imagePath := flag.String("image", "", "describe this image once and exit")
	modelName := flag.String("model", string(model.ModelGroq), "model for -image")
	promptText := flag.String("prompt", prompt.DefaultPrompt(prompt.ModeDefault), "prompt for -image")
	outDir := flag.String("out", ".", "output directory for -image")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	dispatcher := newDispatcher(cfg, logger)
	narration := output.NewWebSocketOutput(logger.With("component", "narration"))

	var speech pipeline.Speech
	engine, err := tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID)
	if err != nil {
		logger.Warn("speech disabled", "error", err)
	} else {
		if cfg.ElevenLabsBaseURL != "" {
			engine.BaseURL = cfg.ElevenLabsBaseURL
		}
		synth, err := tts.NewSynthesizer(engine, narration, cfg.WorkDir, logger.With("component", "tts"))
		if err != nil {
			log.Fatalf("synthesizer: %v", err)
		}
		speech = synth
	}

	voice := stt.NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramURL, logger.With("component", "stt"))

	p, err := pipeline.New(dispatcher, speech, artifact.NewPackager(), voice, logger.With("component", "pipeline"))
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	if *imagePath != "" {
		os.Exit(runOnce(p, *imagePath, model.ModelName(*modelName), *promptText, *outDir))
	}

	srv := server.New(p, dispatcher, narration, cfg.VoiceTimeout(), logger.With("component", "server"))
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()
	if err := srv.Listen(cfg.Addr); err != nil {
		log.Fatal(err)
	}
}

func newDispatcher(cfg config.Config, logger *slog.Logger) *inference.Dispatcher {
	d := inference.NewDispatcher(logger.With("component", "inference"))

	phiURL := cfg.PhiVisionURL
	if phiURL == "" {
		phiURL = gradio.SpaceURL(string(model.ModelPhiVision))
	}
	florenceURL := cfg.FlorenceURL
	if florenceURL == "" {
		florenceURL = gradio.SpaceURL(string(model.ModelFlorence))
	}

	d.Register(model.ModelPhiVision, llm.NewPhiVisionAdapter(
		gradio.NewClient(phiURL, cfg.GradioAPIPrefix, cfg.HFToken, nil), cfg.PhiModelID))
	d.Register(model.ModelFlorence, llm.NewFlorenceAdapter(
		gradio.NewClient(florenceURL, cfg.GradioAPIPrefix, cfg.HFToken, nil)))
	d.Register(model.ModelGroq, llm.NewOpenAIVisionClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, nil))
	return d
}

// runOnce describes a single image from disk and writes the artifacts to
// outDir. It returns the process exit code.
func runOnce(p *pipeline.Pipeline, imagePath string, name model.ModelName, promptText, outDir string) int {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read image: %v\n", err)
		return 1
	}
	img, err := model.NewImage(imagePath, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image: %v\n", err)
		return 1
	}

	resp := p.Submit(context.Background(), model.InferenceRequest{Model: name, Image: img, Prompt: promptText})
	fmt.Println(resp.Result.String())
	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if resp.Bundle == nil {
		return 1
	}
	written, err := artifact.Export(outDir, *resp.Bundle)
	for _, path := range written {
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		return 1
	}
	return 0
}
