package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/smartparent/companion/internal/idle"
	"github.com/smartparent/companion/internal/persona"
	"github.com/smartparent/companion/internal/session"
)

// speaker identifies who a rendered line belongs to.
type speaker int

const (
	speakerUser speaker = iota
	speakerAssistant
)

type chatLine struct {
	who  speaker
	kind session.NoteKind
	text string
}

// Messages delivered from outside the bubbletea loop.
type (
	noteMsg       struct{ note session.Note }
	submitDoneMsg struct{ err error }
	idleWarnMsg   struct{ remaining time.Duration }
	idleExpireMsg struct{}
)

// Chat is the conversation screen: a scrolling exchange with whichever
// persona the user's messages route to, over a single text input.
type Chat struct {
	mgr      *session.Manager
	watchdog *idle.Watchdog
	theme    *Theme
	email    string

	input   textinput.Model
	spin    spinner.Model
	busy    bool
	lines   []chatLine
	warning string
	err     string

	// events carries manager notes and watchdog callbacks into Update.
	events chan tea.Msg

	width, height int
	quitting      bool
	signedOut     bool

	// onSignOut clears credentials when the idle watchdog expires.
	onSignOut func()
}

// NewChat builds the chat screen and wires the manager's note handler into
// its event channel. Run attaches the watchdog and starts the loop.
func NewChat(mgr *session.Manager, email string, onSignOut func()) *Chat {
	input := textinput.New()
	input.Placeholder = "Ask about your child's health or behavior..."
	input.CharLimit = 2000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(ColorAccent)

	c := &Chat{
		mgr:       mgr,
		theme:     NewTheme(),
		email:     email,
		input:     input,
		spin:      spin,
		events:    make(chan tea.Msg, 16),
		onSignOut: onSignOut,
	}

	mgr.SetNoteHandler(func(n session.Note) { c.events <- noteMsg{note: n} })
	return c
}

// Run drives the screen until the user quits or is signed out for
// inactivity.
func Run(mgr *session.Manager, timeout time.Duration, email string, onSignOut func()) error {
	c := NewChat(mgr, email, onSignOut)
	c.watchdog = idle.New(timeout,
		func(remaining time.Duration) { c.events <- idleWarnMsg{remaining: remaining} },
		func() { c.events <- idleExpireMsg{} })
	c.watchdog.Touch()
	defer c.watchdog.Stop()

	p := tea.NewProgram(c, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (c *Chat) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, c.spin.Tick, c.waitEvent())
}

// waitEvent pumps one external event into the update loop.
func (c *Chat) waitEvent() tea.Cmd {
	return func() tea.Msg {
		return <-c.events
	}
}

func (c *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.input.Width = msg.Width - 4
		return c, nil

	case tea.KeyMsg:
		if c.watchdog != nil {
			c.watchdog.Touch()
		}
		c.warning = ""
		switch msg.String() {
		case "ctrl+c", "esc":
			c.quitting = true
			c.mgr.Close()
			return c, tea.Quit
		case "ctrl+r":
			if c.mgr.Snapshot().FollowUpMode {
				if err := c.mgr.Reset(); err == nil {
					c.lines = append(c.lines, chatLine{
						who:  speakerAssistant,
						kind: session.NoteFallback,
						text: "Okay, let's start over. What would you like to ask?",
					})
				}
			}
			return c, nil
		case "enter":
			return c, c.submit()
		}

	case noteMsg:
		c.busy = false
		c.lines = append(c.lines, chatLine{who: speakerAssistant, kind: msg.note.Kind, text: msg.note.Text})
		if msg.note.Kind == session.NoteGuidance {
			c.lines = append(c.lines, chatLine{
				who:  speakerAssistant,
				kind: session.NoteFallback,
				text: "Session complete. Ask another question anytime.",
			})
		}
		return c, c.waitEvent()

	case submitDoneMsg:
		c.busy = false
		if msg.err != nil {
			c.err = msg.err.Error()
		}
		return c, nil

	case idleWarnMsg:
		c.warning = fmt.Sprintf("Signing out in %s due to inactivity. Press any key to stay.", msg.remaining)
		return c, c.waitEvent()

	case idleExpireMsg:
		c.signedOut = true
		c.quitting = true
		c.mgr.Clear()
		if c.onSignOut != nil {
			c.onSignOut()
		}
		return c, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		c.spin, cmd = c.spin.Update(msg)
		return c, cmd
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

func (c *Chat) submit() tea.Cmd {
	text := strings.TrimSpace(c.input.Value())
	if text == "" || c.busy {
		return nil
	}
	c.input.Reset()
	c.err = ""
	c.busy = true
	c.lines = append(c.lines, chatLine{who: speakerUser, text: text})

	return tea.Batch(
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
			defer cancel()
			return submitDoneMsg{err: c.mgr.Submit(ctx, text)}
		},
		c.spin.Tick,
	)
}

func (c *Chat) View() string {
	if c.quitting {
		if c.signedOut {
			return "Signed out due to inactivity.\n"
		}
		return ""
	}

	var b strings.Builder

	// Header
	b.WriteString(c.theme.Header.Render("Smart Parent"))
	if c.email != "" {
		b.WriteString("  ")
		b.WriteString(c.theme.UserEmail.Render(c.email))
	}
	st := c.mgr.Snapshot()
	if p := st.ActivePersona; p != persona.Inactive && p != "" && p.Handled() {
		b.WriteString("  ")
		b.WriteString(c.theme.PersonaOn.Render("· " + string(p)))
	}
	b.WriteString("\n\n")

	// Conversation, clipped to the space above the input area.
	visible := c.lines
	if max := c.height - 8; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	for _, line := range visible {
		b.WriteString(c.renderLine(line))
		b.WriteString("\n")
	}

	if st.FollowUpMode {
		collected, required := st.CollectedCount()
		b.WriteString(c.theme.Progress.Render(
			fmt.Sprintf("%d of %d details collected · ctrl+r to start over", collected, required)))
		b.WriteString("\n")
	}

	if c.err != "" {
		b.WriteString(c.theme.ErrorMsg.Render(c.err))
		b.WriteString("\n")
	}
	if c.warning != "" {
		b.WriteString(c.theme.Warning.Render(c.warning))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if c.busy {
		b.WriteString(c.spin.View())
		b.WriteString(" thinking...\n")
	} else {
		b.WriteString(c.input.View())
		b.WriteString("\n")
	}
	b.WriteString(c.theme.Footer.Render("enter send · ctrl+r reset · esc quit"))
	return b.String()
}

func (c *Chat) renderLine(line chatLine) string {
	if line.who == speakerUser {
		return c.theme.UserMsg.Render("You: ") + line.text
	}
	switch line.kind {
	case session.NotePrompt:
		return c.theme.PromptMsg.Render(line.text)
	case session.NoteFallback:
		return c.theme.FallbackMsg.Render(line.text)
	case session.NoteError:
		return c.theme.ErrorMsg.Render(line.text)
	default:
		return c.theme.AssistantMsg.Render(line.text)
	}
}
