// Package main provides the entry point for the narrator CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrator/internal/audio"
	"github.com/dgnsrekt/narrator/internal/cache"
	"github.com/dgnsrekt/narrator/tts"
	"github.com/dgnsrekt/narrator/tts/engines"
	"github.com/dgnsrekt/narrator/tts/engines/mock"
	"github.com/dgnsrekt/narrator/tts/sentence"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	voice       string
	speed       float64
	paragraphs  bool
	withContext bool
	useMock     bool
	debug       bool
	outputFile  string

	rootCmd = &cobra.Command{
		Use:   "narrator [FILE]",
		Short: "Read text aloud, sentence by sentence",
		Long: "\nNarrator converts text to speech through an OpenAI-compatible\n" +
			"endpoint and plays it back chunk by chunk, buffering ahead and\n" +
			"caching synthesized audio on disk.",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug || viper.GetBool("debug") {
				log.SetLevel(log.DebugLevel)
			}
		},
		RunE: runPlay,
	}

	exportCmd = &cobra.Command{
		Use:   "export [FILE]",
		Short: "Synthesize a file to a single WAV",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verify the speech endpoint is reachable",
		RunE:  runCheck,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persisted audio cache",
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry count",
		RunE:  runCacheStats,
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached audio file",
		RunE:  runCacheClear,
	}
)

// textFromArg reads the source text from a file argument or stdin.
func textFromArg(args []string) (text, filename string, err error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("unable to read stdin: %w", err)
		}
		return string(b), "", nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("unable to read %s: %w", args[0], err)
	}
	return string(b), args[0], nil
}

// buildModel picks the speech model implementation.
func buildModel() tts.Model {
	if useMock {
		return mock.New()
	}
	return engines.NewHTTPModel()
}

// openCache opens the persisted audio cache in the configured directory.
func openCache() (*cache.DiskCache, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, fmt.Errorf("unable to resolve cache dir: %w", err)
	}
	cfg := cache.DefaultConfig(dir)
	if mb := viper.GetInt64("cache.max_size_mb"); mb > 0 {
		cfg.Capacity = mb << 20
	}
	return cache.New(cfg)
}

func runPlay(cmd *cobra.Command, args []string) error {
	settings, err := buildSettings()
	if err != nil {
		return err
	}

	text, filename, err := textFromArg(args)
	if err != nil {
		return err
	}

	store, err := openCache()
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := audio.NewOtoSink()
	if err != nil {
		return err
	}
	defer sink.Close()

	mode := sentence.ModeSentence
	if paragraphs {
		mode = sentence.ModeParagraph
	}
	opts := tts.SessionOptions{Text: text, Mode: mode}
	if filename != "" {
		// Watch the file so saves are narrated with the updated text.
		opts = tts.SessionOptions{Filename: filename, Mode: mode}
	}
	opts.Loader, opts.Player = engineConfigs()

	session, err := tts.NewSession(buildModel(), store, sink, settings, opts)
	if err != nil {
		return err
	}
	defer session.Destroy()

	if err := session.Play(); err != nil {
		return err
	}
	log.Info("playing", "chunks", session.Track().Len(), "voice", settings.Voice)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		// Poll for the end of playback; the position sentinel flips once
		// the last chunk finishes.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if session.Position() == tts.NoPosition {
				close(done)
				return
			}
		}
	}()

	select {
	case <-sig:
		log.Info("interrupted")
	case <-done:
		log.Info("finished")
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	settings, err := buildSettings()
	if err != nil {
		return err
	}
	text, _, err := textFromArg(args)
	if err != nil {
		return err
	}
	if outputFile == "" {
		return fmt.Errorf("--output is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := tts.ExportAudio(ctx, buildModel(), text, settings, tts.DefaultExportCharLimit)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", outputFile, err)
	}
	log.Info("exported", "file", outputFile, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, err := buildSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := buildModel().ValidateConnection(ctx, settings); err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	fmt.Println("endpoint is reachable")
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	store, err := openCache()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("entries: %d\n", store.Len())
	fmt.Printf("size:    %s\n", humanize.Bytes(uint64(store.StorageSize())))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	store, err := openCache()
	if err != nil {
		return err
	}
	defer store.Close()

	before := store.StorageSize()
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Printf("cleared %s\n", humanize.Bytes(uint64(before)))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&voice, "voice", "", "voice to synthesize with")
	rootCmd.PersistentFlags().Float64Var(&speed, "speed", 0, "synthesis speed multiplier")
	rootCmd.PersistentFlags().BoolVar(&withContext, "context", false, "pass preceding chunks to the model")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use the built-in mock model (no network)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
	rootCmd.Flags().BoolVarP(&paragraphs, "paragraphs", "p", false, "chunk by paragraph instead of sentence")

	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output WAV path")

	_ = viper.BindPFlag("voice", rootCmd.PersistentFlags().Lookup("voice"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(exportCmd, checkCmd, cacheCmd)
}
