// Command cmd_debug_ocr runs the card pipeline on one image and prints what
// every stage produced.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/disintegration/imaging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cardscan/pkg/cliargs"
	"cardscan/pkg/ocr"
)

type args struct {
	File    string `arg:"positional,required" help:"image file to OCR"`
	Save    bool   `arg:"--save" help:"write the preprocessed image next to the input as <name>.prep.<profile>.png"`
	Compare bool   `arg:"--compare" help:"run every preprocessing profile"`

	cliargs.Log
	cliargs.OCR
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	scanner, err := a.OCR.Scanner()
	if err != nil {
		log.Fatal().Err(err).Msg("ocr config")
	}
	f, err := os.Open(a.File)
	if err != nil {
		log.Fatal().Err(err).Msg("open")
	}
	img, err := ocr.Decode(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("decode")
	}

	profiles := []ocr.Profile{scanner.Profile()}
	if a.Compare {
		profiles = profiles[:0]
		for _, name := range ocr.ProfileNames() {
			p, _ := ocr.ProfileByName(name)
			profiles = append(profiles, p)
		}
	}

	fmt.Printf("file=%s size=%dx%d tesseract=%s\n", a.File, img.Bounds().Dx(), img.Bounds().Dy(), ocr.Version())
	for _, p := range profiles {
		if a.Save {
			out := prepPath(a.File, p.Name)
			if err := imaging.Save(p.Apply(img), out); err != nil {
				log.Error().Err(err).Str("out", out).Msg("save preprocessed")
			} else {
				fmt.Printf("saved %s\n", out)
			}
		}
		res, err := scanner.ScanImage(context.Background(), img, p)
		if err != nil {
			fmt.Printf("[%s] error: %v\n", p.Name, err)
			continue
		}
		fmt.Printf("[%s] elapsed=%s fallback=%v\n", p.Name, res.Elapsed, res.Fallback)
		fmt.Println("--- text ---")
		fmt.Println(strings.TrimSpace(res.Text))
		fmt.Printf("--- candidate lines (%d) ---\n", len(res.Lines))
		for _, l := range res.Lines {
			fmt.Printf("  %q\n", l)
		}
		fmt.Printf("first=%q last=%q\n", res.Name.First, res.Name.Last)
	}
}

func prepPath(file, profile string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + ".prep." + profile + ".png"
}
