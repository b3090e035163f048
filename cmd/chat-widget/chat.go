package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"chat-widget/internal/config"
	"chat-widget/internal/model"
	"chat-widget/internal/widget"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	visitorName  string
	visitorEmail string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the widget and chat with a support agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		w, err := widget.Open(ctx, cfg, logger, registerer())
		if err != nil {
			return err
		}
		defer w.Close()

		out := cmd.OutOrStdout()
		printer := newPrinter(out, cfg.Texts)
		unsubscribe := w.Subscribe(printer.render)
		defer unsubscribe()

		if err := w.Start(ctx); err != nil {
			return err
		}
		if w.State().Mode == model.ModeForm {
			if err := w.SubmitForm(ctx, visitorName, visitorEmail); err != nil {
				return err
			}
		}
		if err := w.Show(ctx); err != nil {
			return err
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error { return serveMetrics(egCtx, metricsAddr) })
		eg.Go(func() error {
			defer cancel()
			return readInput(egCtx, cmd.InOrStdin(), out, w)
		})
		return eg.Wait()
	},
}

func init() {
	chatCmd.Flags().StringVar(&visitorName, "name", "", "visitor name for the pre-chat form")
	chatCmd.Flags().StringVar(&visitorEmail, "email", "", "visitor email for the pre-chat form")
}

// readInput sends every line typed by the user. It returns on EOF, /quit or
// when ctx is cancelled.
func readInput(ctx context.Context, in io.Reader, out io.Writer, w *widget.Widget) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit":
				return nil
			case "/hide":
				w.Hide(ctx)
				fmt.Fprintln(out, "[widget hidden]")
			case "/show":
				if err := w.Show(ctx); err != nil {
					log.Warn().Err(err).Msg("show failed")
				}
			default:
				if err := w.Send(ctx, line); err != nil {
					fmt.Fprintf(out, "[not delivered: %v]\n", err)
				}
			}
		}
	}
}

// printer renders state changes as terminal lines.
type printer struct {
	out      io.Writer
	texts    config.Texts
	printed  []model.Message
	typing   bool
	notified bool
	phase    model.Phase
}

func newPrinter(out io.Writer, texts config.Texts) *printer {
	return &printer{out: out, texts: texts, phase: model.PhaseUnbound}
}

func (p *printer) render(s model.State) {
	// History can be merged in front of lines already on screen, so printed
	// messages are matched by content rather than position.
	used := make([]bool, len(p.printed))
	for _, msg := range s.Messages {
		if i := unusedMatch(p.printed, used, msg); i >= 0 {
			used[i] = true
			continue
		}
		from := msg.From
		if msg.IsSelf() {
			from = "you"
		}
		fmt.Fprintf(p.out, "%s: %s\n", from, msg.Body.String())
	}
	p.printed = model.CloneMessages(s.Messages)

	if s.Phase != p.phase {
		switch s.Phase {
		case model.PhaseAwaitingAgent:
			fmt.Fprintf(p.out, "[%s]\n", p.texts.NoAgentConnected)
		case model.PhaseBound:
			fmt.Fprintln(p.out, "[agent connected]")
		case model.PhaseUnbound:
			if p.phase == model.PhaseDisconnecting {
				fmt.Fprintln(p.out, "[conversation closed]")
			}
		}
		p.phase = s.Phase
	}

	if s.Presence.AgentTyping != p.typing {
		p.typing = s.Presence.AgentTyping
		if p.typing {
			fmt.Fprintln(p.out, "[agent is typing...]")
		}
	}

	if d := s.Presence.AgentDisconnected; d != nil && !p.notified {
		p.notified = true
		text := p.texts.AgentDisconnected
		if body := d.Body.String(); body != "" {
			text = body
		}
		fmt.Fprintf(p.out, "[%s]\n", text)
	} else if d == nil {
		p.notified = false
	}
}

func unusedMatch(printed []model.Message, used []bool, msg model.Message) int {
	for i, m := range printed {
		if !used[i] && m.Equal(msg) {
			return i
		}
	}
	return -1
}
