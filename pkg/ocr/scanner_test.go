package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

// scriptedEngine returns canned text per page segmentation mode.
type scriptedEngine struct {
	mu    sync.Mutex
	texts map[int]string
	calls []Options
	err   error
}

func (e *scriptedEngine) Recognize(_ context.Context, img image.Image, opts Options) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, opts)
	if e.err != nil {
		return "", e.err
	}
	if _, ok := img.(*image.Gray); !ok {
		return "", errors.New("engine expected a preprocessed gray image")
	}
	return e.texts[opts.PageSegMode], nil
}

func cardPNG(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(120, 80, color.NRGBA{240, 240, 240, 255})); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestScannerExtractsName(t *testing.T) {
	eng := &scriptedEngine{texts: map[int]string{PSMSingleBlock: "ACME A.Ş.\nZEYNEP KARA\n"}}
	s := NewScanner(eng, ScannerConfig{})
	res, err := s.Scan(context.Background(), cardPNG(t))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Name.First != "Zeynep" || res.Name.Last != "Kara" {
		t.Fatalf("unexpected name %+v", res.Name)
	}
	if res.Profile != "otsu" || res.Fallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(eng.calls) != 1 || eng.calls[0].Languages[0] != "tur" || eng.calls[0].Languages[1] != "eng" {
		t.Fatalf("unexpected engine calls %+v", eng.calls)
	}
}

func TestScannerFallbackPass(t *testing.T) {
	eng := &scriptedEngine{texts: map[int]string{
		PSMSingleBlock: "lorem ipsum",
		PSMSparseText:  "CAN\nDEMİR",
	}}
	s := NewScanner(eng, ScannerConfig{Profile: ProfileAdaptive, FallbackPSM: PSMSparseText})
	res, err := s.Scan(context.Background(), cardPNG(t))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.Fallback || res.Name.First != "Can" || res.Name.Last != "Demir" {
		t.Fatalf("expected fallback name Can Demir got %+v", res)
	}
	if len(eng.calls) != 2 {
		t.Fatalf("expected 2 passes got %d", len(eng.calls))
	}
}

func TestScannerKeepsEmptyResult(t *testing.T) {
	eng := &scriptedEngine{texts: map[int]string{}}
	s := NewScanner(eng, ScannerConfig{})
	res, err := s.Scan(context.Background(), cardPNG(t))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.Name.Empty() || len(res.Lines) != 0 {
		t.Fatalf("expected empty result got %+v", res)
	}
}

func TestScannerErrors(t *testing.T) {
	s := NewScanner(&scriptedEngine{err: ErrEngineUnavailable}, ScannerConfig{})
	if _, err := s.Scan(context.Background(), cardPNG(t)); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable got %v", err)
	}
	if _, err := s.Scan(context.Background(), bytes.NewBufferString("not an image")); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode got %v", err)
	}
}

func TestScannerTimeout(t *testing.T) {
	slow := EngineFunc(func(ctx context.Context, _ image.Image, _ Options) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "TOO LATE", nil
		}
	})
	s := NewScanner(slow, ScannerConfig{Timeout: 20 * time.Millisecond})
	if _, err := s.Scan(context.Background(), cardPNG(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}

func TestScannerSlotHeldUntilEngineStops(t *testing.T) {
	var active, peak, finished int32
	// ignores ctx: a native run cannot be interrupted
	busy := EngineFunc(func(_ context.Context, _ image.Image, _ Options) (string, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&finished, 1)
		return "AHMET YILMAZ", nil
	})
	s := NewScanner(busy, ScannerConfig{Concurrency: 1, Timeout: 20 * time.Millisecond})
	img := imaging.New(40, 30, color.White)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ScanImage(context.Background(), img, ProfileOtsu); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected deadline exceeded got %v", err)
			}
		}()
	}
	wg.Wait()

	// let every started run finish before reading the peak
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&active) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p := atomic.LoadInt32(&peak); p != 1 {
		t.Fatalf("expected at most 1 engine run at a time got %d", p)
	}
	if f := atomic.LoadInt32(&finished); f < 1 {
		t.Fatalf("expected the engine to run at least once got %d", f)
	}
}

func TestParseLanguages(t *testing.T) {
	got := ParseLanguages("tur+eng")
	if len(got) != 2 || got[0] != "tur" || got[1] != "eng" {
		t.Fatalf("unexpected %q", got)
	}
	if got := ParseLanguages(""); len(got) != 2 {
		t.Fatalf("expected defaults got %q", got)
	}
}
