// Package interactive adds a human-in-the-loop layer on top of
// internal/agentloop: before each proposed shell command runs, the operator
// can approve it, edit it, reject it and give feedback, or abandon the run.
package interactive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/mini-swe-agent/mini-swe-agent/internal/environment"
)

// Mode controls how much the operator is asked to confirm.
type Mode string

const (
	// ModeHuman asks for confirmation before every command.
	ModeHuman Mode = "human"
	// ModeConfirm asks once per step, batching repeated yes answers until
	// the operator types something else.
	ModeConfirm Mode = "confirm"
	// ModeYolo never asks; every command runs unattended.
	ModeYolo Mode = "yolo"
)

// Decision is what the operator chose to do with a proposed command.
type Decision struct {
	// Proceed is false when the operator rejected the command outright.
	Proceed bool
	// Command overrides the proposed command when the operator edited it;
	// empty means run the command unchanged.
	Command string
	// Feedback is appended as a user-role message instead of running
	// anything, when the operator rejected with an explanation.
	Feedback string
	// Abort ends the run immediately without saving a final exit message
	// beyond what the loop already has.
	Abort bool
}

// ErrAborted is returned by Confirm when the operator chose to stop the run.
var ErrAborted = fmt.Errorf("run aborted by operator")

// Session drives operator confirmation for one run. A Session is not safe
// for concurrent use; one run uses one Session from one goroutine.
type Session struct {
	Mode   Mode
	In     io.Reader
	Out    io.Writer
	reader *bufio.Scanner
	// autoApproving is set once the operator picks the confirm-mode
	// shortcut ("always yes this step") so subsequent commands in the same
	// step skip the prompt.
	autoApproving bool
}

// NewSession constructs a confirmation session reading from in and writing
// prompts/output to out.
func NewSession(mode Mode, in io.Reader, out io.Writer) *Session {
	return &Session{Mode: mode, In: in, Out: out, reader: bufio.NewScanner(in)}
}

// Confirm asks the operator what to do about running command. In yolo mode
// it always proceeds without asking.
func (s *Session) Confirm(ctx context.Context, command string) (*Decision, error) {
	if s.Mode == ModeYolo {
		return &Decision{Proceed: true}, nil
	}
	if s.Mode == ModeConfirm && s.autoApproving {
		return &Decision{Proceed: true}, nil
	}

	fmt.Fprintf(s.Out, "\nProposed command:\n  %s\n", command)

	var proceed bool
	confirmErr := huh.NewConfirm().
		Title("Run this command?").
		Affirmative("Yes").
		Negative("No, let me respond").
		Value(&proceed).
		Run()
	if confirmErr != nil {
		// huh requires an interactive TTY; fall back to the line-based
		// slash-command prompt when one isn't available (e.g. tests, CI).
		return s.confirmByLine(command)
	}
	if proceed {
		if s.Mode == ModeConfirm {
			s.autoApproving = true
		}
		return &Decision{Proceed: true}, nil
	}
	return s.confirmByLine(command)
}

// confirmByLine implements the slash-command protocol directly against the
// scanner: /h help, /u edit, /c continue, /y yolo-for-rest-of-run, or free
// text which is treated as rejection feedback.
func (s *Session) confirmByLine(command string) (*Decision, error) {
	for {
		fmt.Fprint(s.Out, "[c]ontinue  [u]pdate  [y]olo  [q]uit  or type feedback> ")
		if !s.reader.Scan() {
			return &Decision{Abort: true}, ErrAborted
		}
		line := strings.TrimSpace(s.reader.Text())
		switch line {
		case "/c", "c", "":
			return &Decision{Proceed: true}, nil
		case "/y", "y":
			s.Mode = ModeYolo
			return &Decision{Proceed: true}, nil
		case "/q", "q":
			return &Decision{Abort: true}, ErrAborted
		case "/u", "u":
			fmt.Fprint(s.Out, "new command> ")
			if !s.reader.Scan() {
				return &Decision{Abort: true}, ErrAborted
			}
			edited := strings.TrimSpace(s.reader.Text())
			if edited == "" {
				continue
			}
			return &Decision{Proceed: true, Command: edited}, nil
		case "/h", "h":
			fmt.Fprintln(s.Out, "/c continue, /u edit the command, /y yolo for the rest of the run, /q quit, or type free-text feedback")
			continue
		default:
			return &Decision{Proceed: false, Feedback: line}, nil
		}
	}
}

// ExecuteWithConfirmation wraps an environment.Environment so every command
// passes through this Session's confirmation step before it runs.
type ConfirmedEnvironment struct {
	environment.Environment
	Session *Session
}

// Execute asks the Session to confirm command, then runs whatever it decided
// (the original command, an operator edit, or nothing if rejected).
func (e *ConfirmedEnvironment) Execute(ctx context.Context, command string) (*environment.ExecutionResult, error) {
	decision, err := e.Session.Confirm(ctx, command)
	if err != nil {
		return nil, err
	}
	if decision.Abort {
		return nil, ErrAborted
	}
	if !decision.Proceed {
		return &environment.ExecutionResult{
			Output:     "Operator rejected this command: " + decision.Feedback,
			ReturnCode: 0,
		}, nil
	}
	if decision.Command != "" {
		command = decision.Command
	}
	return e.Environment.Execute(ctx, command)
}
