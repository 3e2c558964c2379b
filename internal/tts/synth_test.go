package tts

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/narrator-core/internal/config"
)

func TestMockSynthIsStable(t *testing.T) {
	synth := NewMockSynth()
	a, err := synth.Synthesize(context.Background(), "story one")
	require.NoError(t, err)
	b, err := synth.Synthesize(context.Background(), "story one")
	require.NoError(t, err)
	c, err := synth.Synthesize(context.Background(), "story two")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(a, "mock://speech/"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestMockSynthHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockSynth().Synthesize(ctx, "story")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSynthesizerModes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Speech

	synth, err := NewSynthesizer(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &mockSynth{}, synth)

	cfg.Mode = "playht"
	synth, err = NewSynthesizer(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &playHTSynth{}, synth)

	cfg.Mode = "exec"
	cfg.Command = "speak --format mp3"
	synth, err = NewSynthesizer(cfg, logger)
	require.NoError(t, err)
	require.Equal(t, []string{"speak", "--format", "mp3"}, synth.(*execSynth).cmd)

	cfg.Command = ""
	_, err = NewSynthesizer(cfg, logger)
	require.Error(t, err)

	cfg.Mode = "polly"
	_, err = NewSynthesizer(cfg, logger)
	require.Error(t, err)
}

func TestInstrumentPassesThrough(t *testing.T) {
	synth, err := Instrument(NewMockSynth())
	require.NoError(t, err)
	url, err := synth.Synthesize(context.Background(), "story")
	require.NoError(t, err)
	require.NotEmpty(t, url)
}
