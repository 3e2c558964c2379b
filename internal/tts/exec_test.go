package tts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSynthScript(t *testing.T, body string) (command, stdinPath string) {
	t.Helper()
	dir := t.TempDir()
	stdinPath = filepath.Join(dir, "stdin")
	path := filepath.Join(dir, "speak.sh")
	script := "#!/bin/sh\ncat > " + stdinPath + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return "/bin/sh " + path, stdinPath
}

func TestExecSynthReturnsURL(t *testing.T) {
	command, stdinPath := writeSynthScript(t, `echo '{"url": "https://cdn.example/a.mp3"}'`)
	synth, err := NewExecSynth(command, "narrator-voice")
	require.NoError(t, err)

	url, err := synth.Synthesize(context.Background(), "a story")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/a.mp3", url)

	var sent execRequest
	data, err := os.ReadFile(stdinPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sent))
	require.Equal(t, "a story", sent.Text)
	require.Equal(t, "narrator-voice", sent.Voice)
}

func TestExecSynthFailures(t *testing.T) {
	cases := map[string]struct {
		body  string
		check func(t *testing.T, err error)
	}{
		"non-zero exit": {
			body: "exit 2",
			check: func(t *testing.T, err error) {
				require.Contains(t, err.Error(), "tts command failed")
			},
		},
		"not json": {
			body: "echo nope",
			check: func(t *testing.T, err error) {
				require.Contains(t, err.Error(), "decode tts command output")
			},
		},
		"missing url": {
			body: `echo '{}'`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrURLNotFound)
				require.Equal(t, "URL not found", err.Error())
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			command, _ := writeSynthScript(t, tc.body)
			synth, err := NewExecSynth(command, "")
			require.NoError(t, err)

			_, err = synth.Synthesize(context.Background(), "a story")
			var synthErr *SynthesisError
			require.True(t, errors.As(err, &synthErr))
			tc.check(t, err)
		})
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecSynth("", "")
	require.Error(t, err)
}
