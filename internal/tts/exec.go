package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd   []string
	voice string
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type execResponse struct {
	URL string `json:"url"`
}

// NewExecSynth runs command once per narrative, writing {"text","voice"} on
// stdin and reading {"url": "..."} from stdout.
func NewExecSynth(command, voice string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, voice: voice}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text string) (string, error) {
	data, err := json.Marshal(execRequest{Text: text, Voice: e.voice})
	if err != nil {
		return "", &SynthesisError{Err: err}
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.Output()
	if err != nil {
		return "", &SynthesisError{Err: fmt.Errorf("tts command failed: %w", err)}
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", &SynthesisError{Err: fmt.Errorf("decode tts command output: %w", err)}
	}
	if resp.URL == "" {
		return "", &SynthesisError{Err: ErrURLNotFound}
	}
	return resp.URL, nil
}
