// Package stt turns recorded speech into text through an external transcription
// service.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
)

var (
	ErrNoSpeech      = errors.New("no speech recognized")
	ErrTranscription = errors.New("transcription failed")
)

const (
	DefaultLanguage = "pt"
	DefaultTimeout  = 30 * time.Second
)

type Config struct {
	URL      string        // Endpoint accepting a multipart "file" upload
	Token    string        // Optional bearer token
	Language string        // Language hint sent with every request
	Timeout  time.Duration // Per-request timeout
}

// HTTPTranscriber posts WAV audio to a whisper-style endpoint that answers with
// {"text": "..."}.
type HTTPTranscriber struct {
	client   *resty.Client
	url      string
	language string
}

type transcription struct {
	Text string `json:"text"`
}

type apiError struct {
	Error string `json:"error"`
}

func NewHTTPTranscriber(cfg Config) (*HTTPTranscriber, error) {
	if cfg.URL == "" {
		return nil, errors.New("transcriber URL is required")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPTranscriber{client: client, url: cfg.URL, language: cfg.Language}, nil
}

// Transcribe returns the text spoken in clip. Silence or unintelligible audio
// yields ErrNoSpeech.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	if clip == nil || clip.Len() == 0 {
		return "", ErrNoSpeech
	}
	data, err := audio.EncodeWAVBytes(clip)
	if err != nil {
		return "", fmt.Errorf("%w: encoding audio: %v", ErrTranscription, err)
	}

	var out transcription
	var apiErr apiError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFileReader("file", "speech.wav", bytes.NewReader(data)).
		SetFormData(map[string]string{"language": t.language}).
		SetResult(&out).
		SetError(&apiErr).
		Post(t.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrTranscription, resp.StatusCode(), msg)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
