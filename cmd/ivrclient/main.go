package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/masonivr/voiceclient/internal/app"
	"github.com/masonivr/voiceclient/internal/audio"
	"github.com/masonivr/voiceclient/internal/interview"
	"github.com/masonivr/voiceclient/internal/transport"
)

func main() {
	_ = godotenv.Load()
	cfg := app.LoadConfigFromEnv()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: getEnvironment(),
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("ivrclient: %v", err)
	}
}

func run(ctx context.Context, cfg app.Config, logger *log.Logger) error {
	// Shared HTTP client with connection pooling for the engine exchange
	// and prompt audio fetches.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10, // single engine host
			IdleConnTimeout:     90 * time.Second,
		},
	}

	stdin := bufio.NewScanner(os.Stdin)
	recorder := audio.NewMalgoRecorder()
	defer recorder.Release()

	ctrl, err := interview.New(interview.Config{
		Transport: transport.New(cfg.EngineURL, httpClient, logger),
		Recorder:  recorder,
		Player:    audio.NewOtoPlayer(),
		Retry:     interview.RetryPolicy{MaxAttempts: cfg.RetryMax, Delay: cfg.RetryDelay},
		Confirm: func(prompt string) bool {
			fmt.Printf("%s [y/n]: ", prompt)
			return stdin.Scan() && strings.HasPrefix(strings.TrimSpace(strings.ToLower(stdin.Text())), "y")
		},
		Hooks: interview.Hooks{
			Prompt: func(text string) {
				fmt.Printf("\nAssistant: %s\n", text)
			},
			Transcript: func(text string) {
				fmt.Printf("  (heard: %s)\n", text)
			},
			FieldsUpdated: printFields,
			Notice: func(msg string) {
				fmt.Printf("\n!! %s\n", msg)
			},
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	fmt.Println("MASON voice interview")
	fmt.Printf("engine: %s\n\n", cfg.EngineURL)

	if err := selectLanguage(ctrl, cfg.Language, stdin); err != nil {
		return err
	}
	if err := startSession(ctx, ctrl, stdin); err != nil {
		return err
	}

	for {
		st, err := ctrl.WaitSettled(ctx)
		if err != nil {
			return err
		}
		switch st {
		case interview.StateReadyToRecord:
			fmt.Print("\nPress Enter to start recording (or q to quit): ")
			if !stdin.Scan() || strings.TrimSpace(stdin.Text()) == "q" {
				return nil
			}
			if err := ctrl.StartRecording(ctx); err != nil {
				logger.Printf("start recording: %v", err)
				continue
			}
			fmt.Print("Recording... press Enter to stop: ")
			if !stdin.Scan() {
				return nil
			}
			if err := ctrl.StopRecording(ctx); err != nil {
				// Already surfaced through the Notice hook; the user may
				// simply record again.
				continue
			}
		case interview.StateFinished:
			fmt.Println("\nApplication submitted!")
			printFields(ctrl.Fields())
			return nil
		default:
			return fmt.Errorf("unexpected state %s", st)
		}
	}
}

func selectLanguage(ctrl *interview.Controller, preset string, stdin *bufio.Scanner) error {
	if preset != "" {
		return ctrl.SelectLanguage(preset)
	}
	for {
		fmt.Printf("Select language (%s): ", strings.Join(interview.Languages, "/"))
		if !stdin.Scan() {
			return fmt.Errorf("no language selected")
		}
		if err := ctrl.SelectLanguage(strings.TrimSpace(stdin.Text())); err != nil {
			fmt.Println(err)
			continue
		}
		return nil
	}
}

func startSession(ctx context.Context, ctrl *interview.Controller, stdin *bufio.Scanner) error {
	for {
		fmt.Println("Starting interview...")
		err := ctrl.Start(ctx)
		if err == nil {
			return nil
		}
		fmt.Print("Try again? [y/n]: ")
		if !stdin.Scan() || !strings.HasPrefix(strings.TrimSpace(strings.ToLower(stdin.Text())), "y") {
			return err
		}
	}
}

func printFields(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\nCollected information:")
	for _, k := range keys {
		fmt.Printf("  %-10s %s\n", strings.ReplaceAll(k, "_", " ")+":", fields[k])
	}
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
