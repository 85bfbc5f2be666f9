package slackgw

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticketdesk/internal/gateway"
)

// ManifestPublisher writes the slash command section of a Slack app
// manifest. Bot tokens cannot register commands, so an operator pastes the
// output into the app configuration.
type ManifestPublisher struct {
	out    io.Writer
	logger *zap.Logger
}

var _ gateway.CommandPublisher = (*ManifestPublisher)(nil)

// NewManifestPublisher writes manifests to out.
func NewManifestPublisher(out io.Writer, logger *zap.Logger) *ManifestPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestPublisher{out: out, logger: logger}
}

type manifestCommand struct {
	Command      string `yaml:"command"`
	Description  string `yaml:"description"`
	UsageHint    string `yaml:"usage_hint,omitempty"`
	ShouldEscape bool   `yaml:"should_escape"`
}

type manifestFeatures struct {
	SlashCommands []manifestCommand `yaml:"slash_commands"`
}

type manifest struct {
	Features manifestFeatures `yaml:"features"`
}

// PublishCommands renders defs plus the ticket opener command.
func (p *ManifestPublisher) PublishCommands(_ context.Context, defs []gateway.CommandDefinition) error {
	all := append([]gateway.CommandDefinition{{
		Name:        OpenTicketCommand,
		Description: "Open a support ticket",
		Options:     []string{"category"},
	}}, defs...)

	var m manifest
	for _, def := range all {
		hint := make([]string, 0, len(def.Options))
		for _, opt := range def.Options {
			hint = append(hint, "["+opt+"]")
		}
		m.Features.SlashCommands = append(m.Features.SlashCommands, manifestCommand{
			Command:     "/" + def.Name,
			Description: def.Description,
			UsageHint:   strings.Join(hint, " "),
		})
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := p.out.Write(raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	p.logger.Info("slack command manifest written", zap.Int("commands", len(all)))
	return nil
}
