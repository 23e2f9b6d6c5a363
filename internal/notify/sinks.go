package notify

import (
	"context"
	"os/exec"
	"strings"

	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// logSink writes every notification to the structured log. Always installed
// so deliveries remain observable even with no external sink configured.
type logSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &logSink{log: log}
}

func (s *logSink) Name() string { return "log" }

func (s *logSink) Send(_ context.Context, n Notification) error {
	s.log.Info("notification", logx.String("title", n.Title), logx.String("body", n.Body), logx.String("urgency", string(n.Urgency)))
	return nil
}

// commandSink shells out to a notify-send style helper:
//
//	<command> --urgency=<u> <title> <body>
type commandSink struct {
	command string
}

func NewCommandSink(command string) Sink {
	return &commandSink{command: strings.TrimSpace(command)}
}

func (s *commandSink) Name() string { return "command" }

func (s *commandSink) Send(ctx context.Context, n Notification) error {
	if s.command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.command, "--urgency="+string(n.Urgency), n.Title, n.Body)
	return cmd.Run()
}
