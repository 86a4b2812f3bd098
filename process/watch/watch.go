// Package watch ingests a directory of card images into one scan session.
// Existing files are processed first; in watch mode new files are picked up
// as they are created.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cardscan/models"
	"cardscan/pkg/ocr"
	"cardscan/pkg/store"
)

// Config controls a Processor.
type Config struct {
	Dir string
	// ProcessedDir receives files after a successful scan. Empty leaves them in place.
	ProcessedDir string
	// MaxProcessedBytes triggers a downscale when a moved file is larger.
	MaxProcessedBytes int64
	Workers           int
	Debounce          time.Duration
	// DryRun runs OCR and logs the names without touching the store or the files.
	DryRun bool
}

// Processor turns image files into session records.
type Processor struct {
	cfg       Config
	scanner   *ocr.Scanner
	st        store.Store
	sessionID string

	mu   sync.RWMutex
	done map[string]uint // file name -> scan id
}

// New returns a processor appending to sessionID.
func New(cfg Config, scanner *ocr.Scanner, st store.Store, sessionID string) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.MaxProcessedBytes <= 0 {
		cfg.MaxProcessedBytes = 1_000_000
	}
	return &Processor{cfg: cfg, scanner: scanner, st: st, sessionID: sessionID, done: make(map[string]uint)}
}

// Preload marks files the session already read successfully so a restart does
// not add them twice.
func (p *Processor) Preload(ctx context.Context) error {
	if p.cfg.DryRun {
		return nil
	}
	scans, err := p.st.ListScans(ctx, p.sessionID)
	if err != nil {
		return fmt.Errorf("preload scans: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range scans {
		if !s.Failed && s.FileName != "" {
			p.done[s.FileName] = s.ID
		}
	}
	return nil
}

// claim reserves name for one worker. It fails when the file was already
// scanned or another worker holds it.
func (p *Processor) claim(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.done[name]; ok {
		return false
	}
	p.done[name] = 0
	return true
}

func (p *Processor) release(name string) {
	p.mu.Lock()
	delete(p.done, name)
	p.mu.Unlock()
}

func (p *Processor) markDone(name string, scanID uint) {
	p.mu.Lock()
	p.done[name] = scanID
	p.mu.Unlock()
}

// IsSupportedExt reports whether name looks like a card image.
func IsSupportedExt(name string) bool {
	// preprocessed debug output must not be fed back in
	if strings.Contains(name, ".prep.") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return true
	}
	return false
}

// ListImageFiles returns the supported files directly inside dir, sorted.
func ListImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// ProcessFile scans one file from the input directory. Files already read in
// this session are skipped and return a nil record.
func (p *Processor) ProcessFile(ctx context.Context, name string) (*models.Record, error) {
	if !p.claim(name) {
		log.Debug().Str("component", "watch").Str("file", name).Msg("skip, already scanned")
		return nil, nil
	}
	rec, err := p.processFile(ctx, name)
	if err != nil {
		p.release(name)
	}
	return rec, err
}

func (p *Processor) processFile(ctx context.Context, name string) (*models.Record, error) {
	path := filepath.Join(p.cfg.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if p.cfg.DryRun {
		res, err := p.scanner.Scan(ctx, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		log.Info().Str("component", "watch").Str("file", name).
			Str("first", res.Name.First).Str("last", res.Name.Last).
			Msg("dry-run")
		return &models.Record{FirstName: res.Name.First, LastName: res.Name.Last}, nil
	}

	scan := &models.Scan{
		SessionID:   p.sessionID,
		FileName:    name,
		ContentType: http.DetectContentType(data),
		Source:      models.SourceFile,
		Profile:     p.scanner.Profile().Name,
	}
	if err := p.st.CreateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	res, err := p.scanner.Scan(ctx, bytes.NewReader(data))
	if err != nil {
		p.fail(ctx, scan, err)
		return nil, err
	}
	rec, err := p.record(ctx, scan, res)
	if err != nil {
		p.fail(ctx, scan, err)
		return nil, err
	}
	p.markDone(name, scan.ID)

	if p.cfg.ProcessedDir != "" {
		if err := MoveToProcessed(path, p.cfg.ProcessedDir, p.cfg.MaxProcessedBytes); err != nil {
			log.Warn().Err(err).Str("component", "watch").Str("file", name).Msg("move to processed failed")
		}
	}
	return rec, nil
}

// record appends the scanned name and links it to scan.
func (p *Processor) record(ctx context.Context, scan *models.Scan, res *ocr.Result) (*models.Record, error) {
	rec := &models.Record{FirstName: res.Name.First, LastName: res.Name.Last, ScanID: &scan.ID}
	if err := p.st.AppendRecord(ctx, p.sessionID, rec); err != nil {
		return nil, fmt.Errorf("append record: %w", err)
	}
	scan.RawText = res.Text
	scan.Profile = res.Profile
	scan.RecordID = &rec.ID
	scan.Failed = false
	scan.FailedReason = ""
	if err := p.st.UpdateScan(ctx, scan); err != nil {
		log.Warn().Err(err).Str("component", "watch").Uint("scan_id", scan.ID).Msg("scan update failed")
	}
	log.Info().Str("component", "watch").
		Str("file", scan.FileName).
		Int("position", rec.Position).
		Str("first", rec.FirstName).
		Str("last", rec.LastName).
		Msg("card added")
	return rec, nil
}

func (p *Processor) fail(ctx context.Context, scan *models.Scan, cause error) {
	scan.Failed = true
	reason := cause.Error()
	if len(reason) > 255 {
		cut := 255
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	scan.FailedReason = reason
	if err := p.st.UpdateScan(ctx, scan); err != nil {
		log.Warn().Err(err).Str("component", "watch").Uint("scan_id", scan.ID).Msg("scan update failed")
	}
	log.Warn().Err(cause).Str("component", "watch").Str("file", scan.FileName).Msg("scan failed")
}

// Run processes names with the worker pool. Per-file failures are logged and
// counted; only cancellation stops the run early.
func (p *Processor) Run(ctx context.Context, names []string) (added, failed int, err error) {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, n := range names {
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return p.consume(ctx, ch)
}

func (p *Processor) consume(ctx context.Context, ch <-chan string) (added, failed int, err error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for name := range ch {
				rec, err := p.ProcessFile(gctx, name)
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				switch {
				case err != nil:
					failed++
				case rec != nil:
					added++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return added, failed, err
}

// Watch processes files created in the input directory until ctx is done.
// Create and write events are debounced so half-written files are not read.
func (p *Processor) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(p.cfg.Dir); err != nil {
		return err
	}
	log.Info().Str("component", "watch").Str("dir", p.cfg.Dir).Msg("watching (debounced)")

	fileCh := make(chan string, 256)
	go func() {
		defer close(fileCh)
		pending := map[string]time.Time{}
		tick := p.cfg.Debounce / 2
		if tick <= 0 {
			tick = p.cfg.Debounce
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				if !IsSupportedExt(name) {
					continue
				}
				pending[name] = time.Now()
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) < p.cfg.Debounce {
						continue
					}
					delete(pending, name)
					select {
					case fileCh <- name:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("component", "watch").Msg("watch error")
			}
		}
	}()

	added, failed, err := p.consume(ctx, fileCh)
	log.Info().Str("component", "watch").Int("added", added).Int("failed", failed).Msg("watch stopped")
	return err
}

// Retry re-reads the failed scans of the session from dir with profile,
// typically the adaptive one. It returns how many cards were recovered.
func (p *Processor) Retry(ctx context.Context, dir string, profile ocr.Profile) (int, error) {
	scans, err := p.st.ListScans(ctx, p.sessionID)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range scans {
		scan := &scans[i]
		if !scan.Failed || scan.FileName == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		f, err := os.Open(filepath.Join(dir, scan.FileName))
		if err != nil {
			log.Warn().Err(err).Str("component", "watch").Str("file", scan.FileName).Msg("retry: open failed")
			continue
		}
		img, err := ocr.Decode(f)
		f.Close()
		if err != nil {
			log.Warn().Err(err).Str("component", "watch").Str("file", scan.FileName).Msg("retry: decode failed")
			continue
		}
		res, err := p.scanner.ScanImage(ctx, img, profile)
		if err != nil {
			log.Warn().Err(err).Str("component", "watch").Str("file", scan.FileName).Msg("retry: ocr failed")
			continue
		}
		if _, err := p.record(ctx, scan, res); err != nil {
			return recovered, err
		}
		p.markDone(scan.FileName, scan.ID)
		recovered++
	}
	return recovered, nil
}
