package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
}

type execRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

type execResponse struct {
	Content *string `json:"content"`
}

// NewExecGenerator runs command once per attempt, writing the request as JSON
// on stdin and reading {"content": "..."} from stdout.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse generation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generation command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (string, error) {
	input, err := json.Marshal(execRequest{Prompt: req.Prompt, System: req.System})
	if err != nil {
		return "", err
	}

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("generation command failed: %w", err)}
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("%w: decode command output: %v", ErrMalformedResponse, err)
	}
	if resp.Content == nil {
		return "", ErrMalformedResponse
	}
	return *resp.Content, nil
}
