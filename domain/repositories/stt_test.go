package repositories

import (
	"errors"
	"testing"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

func testLinkConfig() LinkConfig {
	return LinkConfig{
		Model:          "nova-2",
		Formatting:     FormattingSmart,
		InterimResults: true,
		Language:       "en-US",
		Encoding:       "linear16",
		SampleRate:     16000,
		Channels:       1,
	}
}

func TestLinkConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LinkConfig)
		wantErr bool
	}{
		{"valid", func(*LinkConfig) {}, false},
		{"raw formatting", func(c *LinkConfig) { c.Formatting = FormattingRaw }, false},
		{"missing model", func(c *LinkConfig) { c.Model = "" }, true},
		{"unknown formatting", func(c *LinkConfig) { c.Formatting = "pretty" }, true},
		{"missing language", func(c *LinkConfig) { c.Language = "" }, true},
		{"bad sample rate", func(c *LinkConfig) { c.SampleRate = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testLinkConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLinkConfigAccepts(t *testing.T) {
	cfg := testLinkConfig()

	if err := cfg.Accepts(entities.AudioFormat{Encoding: "LINEAR16", SampleRate: 16000, Channels: 1}); err != nil {
		t.Errorf("expected matching format to be accepted, got %v", err)
	}

	mismatches := []entities.AudioFormat{
		{Encoding: "opus", SampleRate: 16000, Channels: 1},
		{Encoding: "linear16", SampleRate: 48000, Channels: 1},
		{Encoding: "linear16", SampleRate: 16000, Channels: 2},
		{},
	}
	for _, f := range mismatches {
		err := cfg.Accepts(f)
		if !errors.Is(err, ErrFormatMismatch) {
			t.Errorf("Accepts(%+v) = %v, want ErrFormatMismatch", f, err)
		}
	}
}

func TestLinkTranscriptBest(t *testing.T) {
	if got := (LinkTranscript{}).Best(); got != "" {
		t.Errorf("Best() on empty transcript = %q, want empty", got)
	}
	tr := LinkTranscript{Alternatives: []string{"first", "second"}}
	if got := tr.Best(); got != "first" {
		t.Errorf("Best() = %q, want first", got)
	}
}
