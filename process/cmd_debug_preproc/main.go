// Command cmd_debug_preproc writes every preprocessing stage of a profile as
// a separate PNG so thresholds can be tuned by eye.
package main

import (
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
	File    string `arg:"positional,required" help:"card image"`
	Profile string `arg:"--profile" default:"otsu" help:"otsu or adaptive"`
	OutDir  string `arg:"--out-dir" help:"output directory (default: next to the input)"`

	cliargs.Log
}

func main() {
	_ = godotenv.Load()
	var a args
	arg.MustParse(&a)
	a.Log.Setup()

	p, err := ocr.ProfileByName(a.Profile)
	if err != nil {
		log.Fatal().Err(err).Msg("profile")
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

	stages := p.Stages(img)
	if p.Binarize == ocr.BinarizeOtsu {
		fmt.Printf("otsu level=%d\n", ocr.OtsuLevel(stages[1].Image))
	}

	dir := a.OutDir
	if dir == "" {
		dir = filepath.Dir(a.File)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("mkdir")
	}
	base := strings.TrimSuffix(filepath.Base(a.File), filepath.Ext(a.File))
	for i, stage := range stages {
		out := filepath.Join(dir, fmt.Sprintf("%s.prep.%s.%d-%s.png", base, p.Name, i+1, stage.Name))
		if err := imaging.Save(stage.Image, out); err != nil {
			log.Fatal().Err(err).Str("out", out).Msg("save")
		}
		fmt.Println(out)
	}
}
