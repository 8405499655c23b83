package speech

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// googleAPI is the part of the Cloud Text-to-Speech client in use.
type googleAPI interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

type gcpClient struct {
	c *texttospeech.Client
}

func (g gcpClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	return g.c.SynthesizeSpeech(ctx, req)
}

func (g gcpClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
	return g.c.ListVoices(ctx, req)
}

func (g gcpClient) Close() error { return g.c.Close() }

// GoogleSynthesizer synthesizes speech directly with Google Cloud
// Text-to-Speech, using application default credentials.
type GoogleSynthesizer struct {
	api googleAPI
}

// NewGoogleSynthesizer creates a Cloud Text-to-Speech client.
func NewGoogleSynthesizer(ctx context.Context) (*GoogleSynthesizer, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}
	return &GoogleSynthesizer{api: gcpClient{c: client}}, nil
}

// Close releases the underlying connection.
func (g *GoogleSynthesizer) Close() error {
	return g.api.Close()
}

// Synthesize renders text as 24kHz MP3 with the given voice settings.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string, p Params) (*Audio, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	resp, err := g.api.SynthesizeSpeech(ctx, synthesisRequest(text, p))
	if err != nil {
		return nil, fmt.Errorf("text-to-speech service error: %w", err)
	}
	return &Audio{Content: resp.AudioContent, CharacterCount: utf8.RuneCountInString(text)}, nil
}

func synthesisRequest(text string, p Params) *texttospeechpb.SynthesizeSpeechRequest {
	p = p.Clamped()
	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding:   texttospeechpb.AudioEncoding_MP3,
		SampleRateHertz: SampleRate,
	}
	// Chirp voices reject speaking rate and pitch.
	if !strings.Contains(strings.ToLower(p.VoiceID), "chirp") {
		audioCfg.SpeakingRate = p.Speed
		audioCfg.Pitch = p.Pitch
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: LanguageCode(p.VoiceID),
			Name:         p.VoiceID,
		},
		AudioConfig: audioCfg,
	}
}

// Voices lists the voices Cloud Text-to-Speech offers.
func (g *GoogleSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := g.api.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		voices = append(voices, Voice{
			ID:       v.Name,
			Name:     v.Name,
			Language: lang,
			Gender:   v.SsmlGender.String(),
		})
	}
	return voices, nil
}
