// Package command executes mailbox commands replied by the forwarding
// target ("STOP amazon", "MORE uber"). Command mail is never treated as
// a receipt.
package command

import (
	"context"
	"fmt"
	"strings"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/logger"
)

// Verbs accepted in a command reply.
const (
	VerbStop          = "STOP"
	VerbMore          = "MORE"
	VerbBlockCategory = "BLOCK_CATEGORY"
)

// Command is one parsed instruction.
type Command struct {
	Verb string
	Arg  string
}

// Service parses and executes commands from the forwarding target.
type Service struct {
	prefs       out.PreferenceRepository
	targetEmail string
	log         *logger.Logger
}

func NewService(prefs out.PreferenceRepository, targetEmail string) *Service {
	return &Service{
		prefs:       prefs,
		targetEmail: strings.ToLower(strings.TrimSpace(targetEmail)),
		log:         logger.WithField("component", "command"),
	}
}

// IsCommand reports whether the email is a command reply: it must come
// from the forwarding target and carry a recognized verb.
func (s *Service) IsCommand(email *domain.Email) bool {
	if s.targetEmail == "" {
		return false
	}
	if !strings.Contains(strings.ToLower(email.Sender), s.targetEmail) {
		return false
	}
	_, ok := Parse(email)
	return ok
}

// Execute runs the command and records the matching preference.
// Returns a human-readable confirmation.
func (s *Service) Execute(ctx context.Context, email *domain.Email) (string, error) {
	cmd, ok := Parse(email)
	if !ok {
		return "", fmt.Errorf("no command found in email")
	}
	return s.Apply(ctx, cmd)
}

// Apply executes an already-parsed command.
func (s *Service) Apply(ctx context.Context, cmd Command) (string, error) {
	var prefType domain.PreferenceType
	var message string

	switch cmd.Verb {
	case VerbStop:
		prefType = domain.PrefBlockedSender
		message = fmt.Sprintf("Blocked: %s", cmd.Arg)
	case VerbMore:
		prefType = domain.PrefAlwaysForward
		message = fmt.Sprintf("Always forwarding: %s", cmd.Arg)
	case VerbBlockCategory:
		prefType = domain.PrefBlockedCategory
		message = fmt.Sprintf("Blocked category: %s", cmd.Arg)
	default:
		return "", fmt.Errorf("unknown command verb %q", cmd.Verb)
	}

	pref := &domain.Preference{Type: prefType, Item: strings.ToLower(cmd.Arg)}
	if err := s.prefs.Create(ctx, pref); err != nil {
		return "", fmt.Errorf("failed to store preference: %w", err)
	}

	s.log.WithFields(map[string]any{
		"verb": cmd.Verb,
		"arg":  logger.Mask(cmd.Arg),
	}).Info("Command executed")
	return message, nil
}

// Parse extracts the first command from the subject or body. Quoted
// lines (replies) are skipped.
func Parse(email *domain.Email) (Command, bool) {
	if cmd, ok := parseLine(email.Subject); ok {
		return cmd, true
	}
	for _, line := range strings.Split(email.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		if cmd, ok := parseLine(line); ok {
			return cmd, true
		}
	}
	return Command{}, false
}

func parseLine(line string) (Command, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return Command{}, false
	}
	verb := strings.ToUpper(fields[0])
	switch verb {
	case VerbStop, VerbMore, VerbBlockCategory:
		return Command{Verb: verb, Arg: fields[1]}, true
	}
	return Command{}, false
}
