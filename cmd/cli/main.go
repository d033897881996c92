package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OnslaughtSnail/glimpse/internal/envload"
	"github.com/OnslaughtSnail/glimpse/internal/version"
	"github.com/OnslaughtSnail/glimpse/kernel/capture"
	"github.com/OnslaughtSnail/glimpse/kernel/provider"
	"github.com/OnslaughtSnail/glimpse/kernel/runtime"
	"github.com/OnslaughtSnail/glimpse/kernel/thread"
	"github.com/OnslaughtSnail/glimpse/kernel/thread/filestore"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if path, err := envload.LoadNearest(); err != nil {
		fmt.Fprintf(os.Stderr, "warn: load .env failed: %v\n", err)
	} else if path != "" && os.Getenv("GLIMPSE_DEBUG") != "" {
		fmt.Fprintf(os.Stderr, "# loaded %s\n", path)
	}

	configStore, err := loadOrInitAppConfig("")
	if err != nil {
		return err
	}
	dataDir, err := configDir()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("glimpse", flag.ContinueOnError)
	var (
		model           = fs.String("model", configStore.data.Model, "Model name")
		baseURL         = fs.String("base-url", configStore.data.BaseURL, "API base URL")
		transcribeModel = fs.String("transcribe-model", configStore.data.TranscribeModel, "Transcription model name")
		storePath       = fs.String("store", filepath.Join(dataDir, "threads.json"), "Thread store file path")
		indexPath       = fs.String("index", filepath.Join(dataDir, "threads.db"), "Thread search index sqlite path")
		maxImageDim     = fs.Int("max-image-dim", configStore.data.MaxImageDim, "Longest capture edge in pixels (0 uses the default)")
		debug           = fs.Bool("debug", false, "Print request and stream trace lines")
		showVersion     = fs.Bool("version", false, "Show version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}

	apiKey, err := resolveAPIKey()
	if err != nil {
		return err
	}

	if dim := *maxImageDim; dim <= 0 {
		dim = capture.DefaultMaxDim
		*maxImageDim = dim
	}
	persistConfig(configStore, *model, *baseURL, *transcribeModel, *maxImageDim)

	var debugSink func(string)
	if *debug {
		debugSink = func(line string) {
			fmt.Fprintf(os.Stderr, "# %s\n", line)
		}
	}
	client, err := provider.New(provider.Config{
		BaseURL:           *baseURL,
		Model:             *model,
		TranscribeModel:   *transcribeModel,
		APIKey:            apiKey,
		StreamTimeout:     time.Duration(configStore.data.StreamTimeoutSeconds) * time.Second,
		DescribeTimeout:   time.Duration(configStore.data.DescribeTimeoutSeconds) * time.Second,
		ValidateTimeout:   time.Duration(configStore.data.ValidateTimeoutSeconds) * time.Second,
		TranscribeTimeout: time.Duration(configStore.data.TranscribeTimeoutSeconds) * time.Second,
		Debug:             debugSink,
	})
	if err != nil {
		return err
	}

	store, err := filestore.New(*storePath)
	if err != nil {
		return err
	}
	registry, err := thread.NewRegistry(ctx, store)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warn: flush thread store failed: %v\n", closeErr)
		}
	}()

	index, err := newThreadIndex(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: thread index unavailable: %v\n", err)
		index = nil
	} else {
		defer index.Close()
	}

	manager := runtime.NewManager(registry, client)
	c := newConsole(consoleConfig{
		BaseContext: ctx,
		Manager:     manager,
		Registry:    registry,
		Provider:    client,
		Index:       index,
		MaxImageDim: *maxImageDim,
		HistoryFile: filepath.Join(dataDir, "history"),
		Version:     version.String(),
		Debug:       *debug,
	})
	return c.loop()
}

// resolveAPIKey checks the environment first and falls back to an
// interactive prompt so the key never has to appear in shell history.
func resolveAPIKey() (string, error) {
	for _, name := range []string{"GLIMPSE_API_KEY", "OPENAI_API_KEY"} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, nil
		}
	}
	editor := newLineEditor("", nil)
	defer editor.Close()
	key, err := editor.ReadSecret("api key: ")
	if err != nil {
		return "", fmt.Errorf("no api key: set GLIMPSE_API_KEY or OPENAI_API_KEY")
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("no api key: set GLIMPSE_API_KEY or OPENAI_API_KEY")
	}
	return key, nil
}

func persistConfig(store *appConfigStore, model, baseURL, transcribeModel string, maxImageDim int) {
	changed := false
	if model != "" && model != store.data.Model {
		store.data.Model = model
		changed = true
	}
	if baseURL != store.data.BaseURL {
		store.data.BaseURL = baseURL
		changed = true
	}
	if transcribeModel != store.data.TranscribeModel {
		store.data.TranscribeModel = transcribeModel
		changed = true
	}
	if maxImageDim != store.data.MaxImageDim {
		store.data.MaxImageDim = maxImageDim
		changed = true
	}
	if !changed {
		return
	}
	if err := store.save(); err != nil {
		fmt.Fprintf(os.Stderr, "warn: persist config failed: %v\n", err)
	}
}
