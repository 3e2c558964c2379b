package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := strings.TrimSpace(req.Prompt)
	if strings.Contains(req.System, "bulleted list") {
		return "- [mock fact one for " + prompt + "]\n- [mock fact two]\n- [mock fact three]\n- [mock fact four]\n- [mock fact five]", nil
	}
	return "[mock story for " + prompt + "]", nil
}
