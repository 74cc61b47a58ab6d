package main

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
)

var (
	spectrogramOut    string
	spectrogramWidth  int
	spectrogramHeight int
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <clip.wav>...",
	Short: "Render recordings as spectrogram images",
	Long: `Render each recording as a PNG spectrogram after the same loading and
resampling used for enrollment. Useful for checking noisy or clipped samples.

Examples:
  voxcart spectrogram a1.wav a2.wav a3.wav --out spectrograms`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.GetLogger()
		if err := os.MkdirAll(spectrogramOut, 0755); err != nil {
			return err
		}

		ctx := context.Background()
		for _, path := range args {
			clip, err := audio.LoadClip(ctx, path, tempDir, sampleRate)
			if err != nil {
				fmt.Printf("❌ %s: %v\n", path, err)
				log.Warnf("Skipping %s: %v", path, err)
				continue
			}
			if clip, err = clip.Resample(sampleRate); err != nil {
				return fmt.Errorf("resampling %s: %w", path, err)
			}

			out := filepath.Join(spectrogramOut, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".png")
			if err := renderSpectrogram(clip, out); err != nil {
				return fmt.Errorf("rendering %s: %w", path, err)
			}
			fmt.Printf("✅ %s (%.1fs at %d Hz) -> %s\n", path, clip.Duration().Seconds(), clip.SampleRate, out)
		}
		return nil
	},
}

func renderSpectrogram(clip *audio.Clip, path string) error {
	img := spectrogram.NewImage128(image.Rect(0, 0, spectrogramWidth, spectrogramHeight))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, linear magnitude
	spectrogram.Drawfft(
		img,
		clip.Samples,
		uint32(clip.SampleRate),
		uint32(spectrogramHeight),
		false,
		false,
		true,
		false,
	)
	return spectrogram.SavePng(img, path)
}

func init() {
	spectrogramCmd.Flags().StringVarP(&spectrogramOut, "out", "o", "spectrograms", "Output directory")
	spectrogramCmd.Flags().IntVar(&spectrogramWidth, "width", 2048, "Image width")
	spectrogramCmd.Flags().IntVar(&spectrogramHeight, "height", 512, "Image height (frequency bins)")
	rootCmd.AddCommand(spectrogramCmd)
}
