package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/VoxCart/pkg/utils"
)

const DefaultSampleRate = 16000

// DefaultMaxSampleDuration caps how much of an uploaded recording becomes a voice
// sample. Enrollment and login utterances last a few seconds.
const DefaultMaxSampleDuration = 30 * time.Second

// ErrNoTranscoder is returned when a non-WAV sample arrives and ffmpeg is not on PATH.
var ErrNoTranscoder = errors.New("ffmpeg not found: only PCM WAV voice samples can be read")

// TranscodeConfig controls how uploaded recordings are normalized into voice samples.
type TranscodeConfig struct {
	SampleRate  int
	MaxDuration time.Duration
	// HighPassHz removes hum and handling noise below the voice band. Zero disables it.
	HighPassHz int
}

func (c *TranscodeConfig) defaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = DefaultMaxSampleDuration
	}
}

// TranscodeVoiceSample turns a browser or phone recording (webm, ogg, m4a, mp3 and
// the like) into the 16-bit mono PCM WAV the feature extractor reads. Only the
// first audio stream is kept, trimmed to MaxDuration. The result is written inside
// outputDir and the caller removes it.
func TranscodeVoiceSample(ctx context.Context, inputPath, outputDir string, cfg TranscodeConfig) (string, error) {
	cfg.defaults()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", ErrNoTranscoder
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, baseName+".sample.wav")

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	args := []string{
		"-y",
		"-v", "error",
		"-i", inputPath,
		"-vn",
		"-map", "0:a:0",
		"-t", strconv.FormatFloat(cfg.MaxDuration.Seconds(), 'f', 3, 64),
	}
	if cfg.HighPassHz > 0 {
		args = append(args, "-af", fmt.Sprintf("highpass=f=%d", cfg.HighPassHz))
	}
	args = append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcoding voice sample %s: %w", filepath.Base(inputPath), ctx.Err())
		}
		return "", fmt.Errorf("no usable audio in voice sample %s: %v (%s)", filepath.Base(inputPath), err, strings.TrimSpace(string(out)))
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// LoadClip reads a WAV file directly, or transcodes other formats through ffmpeg first.
func LoadClip(ctx context.Context, path, tempDir string, sampleRate int) (*Clip, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := ReadWAVFile(path)
		if err == nil {
			return clip, nil
		}
		// Non-PCM WAV variants still go through ffmpeg.
	}

	wavPath, err := TranscodeVoiceSample(ctx, path, tempDir, TranscodeConfig{SampleRate: sampleRate, HighPassHz: 80})
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	return ReadWAVFile(wavPath)
}
