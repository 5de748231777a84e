package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdChat() *cli.Command {
	var (
		coreCfg   coreConfig
		skipSetup bool
		docs      string
		userID    string
		useAgent  bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "skip-setup",
			Usage:       "Skip document ingestion before starting the conversation",
			Sources:     cli.EnvVars("HYPOMNEMA_SKIP_SETUP"),
			Destination: &skipSetup,
		},
		&cli.StringFlag{
			Name:        "docs",
			Usage:       "Document directory or gs://bucket/prefix to ingest",
			Value:       "./docs",
			Sources:     cli.EnvVars("HYPOMNEMA_DOCS"),
			Destination: &docs,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "User ID owning the conversation",
			Value:       "local",
			Sources:     cli.EnvVars("HYPOMNEMA_USER_ID"),
			Destination: &userID,
		},
		&cli.BoolFlag{
			Name:        "agent",
			Usage:       "Answer with a tool-using agent that records its tool calls",
			Sources:     cli.EnvVars("HYPOMNEMA_AGENT"),
			Destination: &useAgent,
		},
	}
	flags = append(flags, coreCfg.Flags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Start an interactive conversation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := coreCfg.newCore(ctx, docs)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !skipSetup {
				if err := runIngest(ctx, rt.useCase.Ingest, docs, os.Stdout); err != nil {
					return err
				}
			}

			if err := rt.useCase.Processor.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start message processor")
			}
			defer rt.useCase.Processor.Stop()

			var a answerer = rt.useCase.Retrieval
			if useAgent {
				a = rt.useCase.Agent
			}

			loop := newChatLoop(rt.useCase.Conversation, a, os.Stdin, os.Stdout)
			return loop.Run(ctx, userID)
		},
	}
}

type answerer interface {
	Answer(ctx context.Context, conversationID model.ConversationID, userID, question string) (*usecase.Answer, error)
}

// chatLoop reads questions line by line until "exit" or end of input
type chatLoop struct {
	conversations *usecase.ConversationUseCase
	answerer      answerer
	in            *bufio.Scanner
	out           io.Writer

	userID  string
	session *model.Session
}

func newChatLoop(conversations *usecase.ConversationUseCase, answerer answerer, in io.Reader, out io.Writer) *chatLoop {
	return &chatLoop{
		conversations: conversations,
		answerer:      answerer,
		in:            bufio.NewScanner(in),
		out:           out,
	}
}

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	answerColor   = color.New(color.FgGreen)
	citationColor = color.New(color.Faint)
	warnColor     = color.New(color.FgYellow)
)

// Run opens a session for userID and serves it. The session is completed on
// "exit", "logout" and end of input.
func (l *chatLoop) Run(ctx context.Context, userID string) error {
	if err := l.login(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintln(l.out, "Type a question, or one of: prefs, logout, exit")

	for {
		_, _ = promptColor.Fprint(l.out, "you> ")
		if !l.in.Scan() {
			if err := l.in.Err(); err != nil {
				l.complete(ctx)
				return goerr.Wrap(err, "failed to read input")
			}
			l.complete(ctx)
			return nil
		}

		line := strings.TrimSpace(l.in.Text())
		switch line {
		case "":
			continue

		case "exit":
			l.complete(ctx)
			fmt.Fprintln(l.out, "bye")
			return nil

		case "prefs":
			l.showPrefs(ctx)

		case "logout":
			l.complete(ctx)
			_, _ = promptColor.Fprint(l.out, "user id> ")
			if !l.in.Scan() {
				return nil
			}
			next := strings.TrimSpace(l.in.Text())
			if next == "" {
				next = l.userID
			}
			if err := l.login(ctx, next); err != nil {
				return err
			}

		default:
			l.ask(ctx, line)
		}
	}
}

func (l *chatLoop) login(ctx context.Context, userID string) error {
	session, err := l.conversations.CreateSession(ctx, userID)
	if err != nil {
		return goerr.Wrap(err, "failed to create session", goerr.V(usecase.UserIDKey, userID))
	}
	l.userID = userID
	l.session = session
	fmt.Fprintf(l.out, "session %s started for %s\n", session.Conversation.ID, userID)
	return nil
}

func (l *chatLoop) complete(ctx context.Context) {
	if l.session == nil {
		return
	}
	if _, err := l.conversations.CompleteSession(ctx, l.session.Conversation.ID); err != nil {
		_ = errutil.Handle(ctx, err, "failed to complete session")
	}
	l.session = nil
}

func (l *chatLoop) ask(ctx context.Context, question string) {
	answer, err := l.answerer.Answer(ctx, l.session.Conversation.ID, l.userID, question)
	if err != nil {
		switch {
		case model.IsValidation(err):
			_, _ = warnColor.Fprintln(l.out, "invalid input:", err.Error())
		case model.IsNotFound(err):
			_, _ = warnColor.Fprintln(l.out, "session not found, type logout to start a new one")
		default:
			_ = errutil.Handle(ctx, err, "failed to answer")
			_, _ = warnColor.Fprintln(l.out, "failed to answer, please try again")
		}
		return
	}

	_, _ = answerColor.Fprintln(l.out, answer.Text)
	for _, c := range answer.Citations {
		_, _ = citationColor.Fprintf(l.out, "  [%s] score=%.2f\n", c.SourceReference, c.Score)
	}
}

func (l *chatLoop) showPrefs(ctx context.Context) {
	fmt.Fprintf(l.out, "user: %s\n", l.userID)
	if l.session != nil {
		fmt.Fprintf(l.out, "session: %s\n", l.session.Conversation.ID)
	}

	sessions, err := l.conversations.ListSessions(ctx, l.userID, 5)
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to list sessions")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(l.out, "  %s %s messages=%d last=%s\n",
			s.ID, s.Status, s.MessageCount, s.LastActivity.Format("2006-01-02 15:04"))
	}
	logging.From(ctx).Debug("prefs shown", "user_id", l.userID, "sessions", len(sessions))
}
