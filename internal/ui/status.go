package ui

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/widget"
)

// StatusLine shows the channel title and the elapsed play time. Setters use
// data bindings and are safe from any goroutine.
type StatusLine struct {
	Title *widget.Label
	Clock *widget.Label

	title binding.String
	clock binding.String
}

// NewStatusLine creates the two labels bound to fresh bindings.
func NewStatusLine() *StatusLine {
	s := &StatusLine{title: binding.NewString(), clock: binding.NewString()}
	s.Title = widget.NewLabelWithData(s.title)
	s.Title.Truncation = fyne.TextTruncateClip
	s.Clock = widget.NewLabelWithData(s.clock)
	_ = s.title.Set("Ready")
	_ = s.clock.Set(FormatClock(0))
	return s
}

// SetTitle shows text, or a placeholder when blank.
func (s *StatusLine) SetTitle(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "No channel"
	}
	_ = s.title.Set(text)
}

// SetPosition shows elapsed seconds.
func (s *StatusLine) SetPosition(seconds float64) {
	_ = s.clock.Set(FormatClock(seconds))
}

// Text returns the current title and clock strings.
func (s *StatusLine) Text() (title, clock string) {
	title, _ = s.title.Get()
	clock, _ = s.clock.Get()
	return title, clock
}
