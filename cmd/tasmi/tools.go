package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/tasmi/internal/app"
	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/internal/scoring"
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/quran"
)

// runSeed imports fixture files into the configured word store.
func runSeed(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	sample := fs.Bool("sample", false, "also import the bundled Al-Fatihah sample")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 && !*sample {
		fmt.Fprintln(os.Stderr, "usage: tasmi seed [-config file] [-sample] fixtures.yaml...")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	slog.SetDefault(newLogger(app.ParseLevel(cfg.Server.LogLevel)))

	ctx := context.Background()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// Import through the opened store so a configured cache is invalidated.
	wc := cfg.Words
	wc.Fixtures, wc.SeedSample = nil, false
	store, err := app.OpenWords(ctx, wc, reg, slog.Default())
	if err != nil {
		slog.Error("open word store", "err", err)
		return 1
	}
	defer store.Close()

	seeder, ok := store.(quran.Seeder)
	if !ok {
		slog.Error("word store is read-only", "backend", wc.Backend)
		return 1
	}

	files := []*quran.FixtureFile{}
	if *sample {
		files = append(files, quran.SampleFixtures())
	}
	for _, path := range fs.Args() {
		ff, err := quran.LoadFixtureFile(path)
		if err != nil {
			slog.Error("load fixtures", "path", path, "err", err)
			return 1
		}
		files = append(files, ff)
	}

	total := 0
	for _, ff := range files {
		n, err := quran.Import(ctx, seeder, ff)
		total += n
		if err != nil {
			slog.Error("import failed", "imported", total, "err", err)
			return 1
		}
	}
	slog.Info("seed complete", "backend", wc.Backend, "ayahs", total)
	return 0
}

// checkResult is printed by runCheck.
type checkResult struct {
	Surah      int             `json:"surah"`
	Ayah       int             `json:"ayah"`
	Word       int             `json:"word"`
	Provider   string          `json:"provider"`
	DurationMs int64           `json:"clip_duration_ms"`
	Verdict    scoring.Verdict `json:"verdict"`
}

// runCheck transcribes a WAV file and scores it against one expected word,
// without the live segmenter.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	surah := fs.Int("surah", 1, "surah number")
	ayah := fs.Int("ayah", 1, "ayah number")
	word := fs.Int("word", 1, "word position within the ayah, starting at 1")
	timeout := fs.Duration("timeout", 60*time.Second, "transcription timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tasmi check [-config file] -surah N -ayah N -word N clip.wav")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	slog.SetDefault(newLogger(app.ParseLevel(cfg.Server.LogLevel)))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		slog.Error("read clip", "err", err)
		return 1
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		slog.Error("decode clip", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	store, err := app.OpenWords(ctx, cfg.Words, reg, slog.Default())
	if err != nil {
		slog.Error("open word store", "err", err)
		return 1
	}
	defer store.Close()

	words, err := store.AyahWords(ctx, *surah, *ayah)
	if err != nil {
		slog.Error("lookup ayah", "err", err)
		return 1
	}
	if *word < 1 || *word > len(words) {
		slog.Error("word out of range", "word", *word, "words", len(words))
		return 1
	}

	tr, err := reg.CreateSTT(cfg.Providers.STT.ProviderEntry)
	if err != nil {
		slog.Error("create transcriber", "err", err)
		return 1
	}
	if c, ok := tr.(interface{ Close() error }); ok {
		defer c.Close()
	}

	norm, err := audio.NewNormalizer(audio.WithSourceFormat(format))
	if err != nil {
		slog.Error("normalizer", "err", err)
		return 1
	}
	clip, err := norm.Normalize(ctx, pcm)
	if err != nil {
		slog.Error("normalize clip", "err", err)
		return 1
	}

	lang := cfg.Session.Language
	if lang == "" {
		lang = "ar"
	}
	transcript, err := tr.Transcribe(ctx, clip, stt.Options{Language: lang, Prompt: cfg.Session.Prompt})
	if err != nil {
		slog.Error("transcribe", "err", err)
		return 1
	}

	var scOpts []scoring.Option
	if cfg.Scoring.Strategy != "" {
		scOpts = append(scOpts, scoring.WithStrategy(scoring.Strategy(cfg.Scoring.Strategy)))
	}
	if cfg.Scoring.Locale != "" {
		scOpts = append(scOpts, scoring.WithLocale(scoring.Locale(cfg.Scoring.Locale)))
	}
	sc, err := scoring.New(scOpts...)
	if err != nil {
		slog.Error("scorer", "err", err)
		return 1
	}
	verdict, err := sc.Compare(words[*word-1], transcript.Text)
	if err != nil {
		slog.Error("score", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(checkResult{
		Surah:      *surah,
		Ayah:       *ayah,
		Word:       *word,
		Provider:   transcript.Provider,
		DurationMs: clip.Duration.Milliseconds(),
		Verdict:    verdict,
	})
	return 0
}
