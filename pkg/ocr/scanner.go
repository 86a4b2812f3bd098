package ocr

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// ScannerConfig tunes a Scanner.
type ScannerConfig struct {
	Profile Profile
	Options Options
	// FallbackPSM is tried when the first pass finds no name line. 0 disables it.
	FallbackPSM int
	// Concurrency caps simultaneous Tesseract runs; <= 0 means NumCPU.
	Concurrency int64
	// Timeout bounds a single recognition; 0 means no limit beyond the caller's context.
	Timeout time.Duration
}

// Result is what one card image produced.
type Result struct {
	Text     string        `json:"text"`
	Lines    []string      `json:"lines"`
	Name     Name          `json:"name"`
	Profile  string        `json:"profile"`
	Fallback bool          `json:"fallback,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Scanner runs the card pipeline: preprocessing, OCR, name extraction.
// It is safe for concurrent use.
type Scanner struct {
	engine Engine
	cfg    ScannerConfig
	sem    *semaphore.Weighted
}

// NewScanner wires an engine to a pipeline configuration.
func NewScanner(engine Engine, cfg ScannerConfig) *Scanner {
	if cfg.Profile.Name == "" {
		cfg.Profile = ProfileOtsu
	}
	if len(cfg.Options.Languages) == 0 {
		cfg.Options.Languages = append([]string(nil), DefaultLanguages...)
	}
	if cfg.Options.PageSegMode == 0 {
		cfg.Options.PageSegMode = PSMSingleBlock
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = int64(runtime.NumCPU())
	}
	return &Scanner{engine: engine, cfg: cfg, sem: semaphore.NewWeighted(cfg.Concurrency)}
}

// Profile returns the default preprocessing profile.
func (s *Scanner) Profile() Profile {
	return s.cfg.Profile
}

// Scan decodes r and runs the default profile on it.
func (s *Scanner) Scan(ctx context.Context, r io.Reader) (*Result, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return s.ScanImage(ctx, img, s.cfg.Profile)
}

// ScanImage runs profile p on an already decoded image.
func (s *Scanner) ScanImage(ctx context.Context, img image.Image, p Profile) (*Result, error) {
	start := time.Now()
	prepared := p.Apply(img)

	text, err := s.recognize(ctx, prepared, s.cfg.Options)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: text, Profile: p.Name}
	res.Lines = CandidateLines(text, p.MinLineLen)

	if len(res.Lines) == 0 && s.cfg.FallbackPSM > 0 && s.cfg.FallbackPSM != s.cfg.Options.PageSegMode {
		opts := s.cfg.Options
		opts.PageSegMode = s.cfg.FallbackPSM
		alt, err := s.recognize(ctx, prepared, opts)
		if err != nil {
			log.Warn().Err(err).Str("component", "ocr").Int("psm", opts.PageSegMode).Msg("fallback pass failed")
		} else if lines := CandidateLines(alt, p.MinLineLen); len(lines) > 0 {
			res.Text = alt
			res.Lines = lines
			res.Fallback = true
		}
	}

	res.Name = nameFromLines(res.Lines)
	res.Elapsed = time.Since(start)
	log.Debug().Str("component", "ocr").
		Str("profile", p.Name).
		Str("snippet", snippet(res.Text, 160)).
		Strs("candidates", res.Lines).
		Str("first", res.Name.First).
		Str("last", res.Name.Last).
		Bool("fallback", res.Fallback).
		Dur("elapsed", res.Elapsed).
		Msg("card scanned")
	return res, nil
}

// recognize holds an OCR slot for as long as the engine runs, even when ctx
// expires first and the caller has already returned.
func (s *Scanner) recognize(ctx context.Context, img image.Image, opts Options) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for ocr slot: %w", err)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer s.sem.Release(1)
		text, err := s.engine.Recognize(ctx, img, opts)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("ocr: %w", r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("ocr: %w", ctx.Err())
	}
}
