// Package overlay shows the matched knowledge card in a floating,
// always-on-top window.
package overlay

import (
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"gioui.org/app"
	"gioui.org/io/key"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget"
	"go.uber.org/zap"

	"recallai/internal/backend"
)

// Window size limits in dp.
const (
	MinWidth  = 320
	MaxWidth  = 620
	MinHeight = 170
	MaxHeight = 600
)

// Content metrics used to estimate the window size before layout.
const (
	chrome        = 40 // outer slack around the card panel
	padding       = 16
	charWidth     = 7.5
	titleCharW    = 8.5
	lineHeight    = 20
	titleHeight   = 28
	footerHeight  = 30
	sectionGap    = 10
	closeBtnWidth = 24
)

const windowTitle = "RecallAI Card"

// copiedFor is how long the copy button reads "Copied" after a click.
const copiedFor = 1500 * time.Millisecond

// Config holds window configuration.
type Config struct {
	Margin       int         // Distance from the screen's top-right corner
	BGColor      color.NRGBA // Background color
	PanelColor   color.NRGBA // Card panel background
	TextColor    color.NRGBA // Text color
	TextDimColor color.NRGBA // Dim text color
	AccentColor  color.NRGBA // Tag color
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Margin:       20,
		BGColor:      color.NRGBA{R: 30, G: 30, B: 34, A: 245},
		PanelColor:   color.NRGBA{R: 45, G: 45, B: 50, A: 255},
		TextColor:    color.NRGBA{R: 240, G: 240, B: 245, A: 255},
		TextDimColor: color.NRGBA{R: 140, G: 140, B: 150, A: 255},
		AccentColor:  color.NRGBA{R: 88, G: 166, B: 255, A: 255},
	}
}

// Window manages the card overlay.
type Window struct {
	mu      sync.Mutex
	config  Config
	logger  *zap.Logger
	card    *backend.Card
	onClose func()                  // called when the user closes the card (Esc or close button)
	onCopy  func(card backend.Card) // called when the copy button is clicked

	closeBtn widget.Clickable
	copyBtn  widget.Clickable
	copiedAt time.Time
	list     widget.List

	window  *app.Window
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an overlay window. Nothing is shown until Show is called.
func New(cfg Config, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Window{
		config: cfg,
		logger: logger.Named("overlay"),
	}
	w.list.Axis = layout.Vertical
	return w
}

// Show displays card, replacing the one currently shown.
func (w *Window) Show(card *backend.Card) {
	if card == nil {
		w.Hide()
		return
	}
	c := *card
	width, height := FitSize(c)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.card = &c

	if w.running {
		if w.window != nil {
			w.window.Option(app.Size(unit.Dp(width), unit.Dp(height)))
			w.window.Invalidate()
			go positionWindow(windowTitle, width, height, w.config.Margin)
		}
		return
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.logger.Debug("showing card", zap.String("title", c.Title))
	go w.runEventLoop(w.stopCh, w.doneCh, width, height)
}

// Hide closes the window.
func (w *Window) Hide() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.card = nil
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			w.logger.Warn("overlay window did not close in time")
		}
	}
}

// OnClose sets the callback invoked when the user dismisses the card.
func (w *Window) OnClose(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = fn
}

// OnCopy sets the callback invoked when the user copies the card.
func (w *Window) OnCopy(fn func(card backend.Card)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCopy = fn
}

// IsVisible returns true if a card is currently shown.
func (w *Window) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Card returns a copy of the card on screen.
func (w *Window) Card() (backend.Card, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.card == nil {
		return backend.Card{}, false
	}
	return *w.card, true
}

func (w *Window) runEventLoop(stopCh, doneCh chan struct{}, width, height int) {
	defer close(doneCh)

	win := new(app.Window)
	win.Option(
		app.Title(windowTitle),
		app.Size(unit.Dp(width), unit.Dp(height)),
		app.Decorated(false),
	)

	w.mu.Lock()
	w.window = win
	margin := w.config.Margin
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.window == win {
			w.window = nil
		}
		w.mu.Unlock()
	}()

	go positionWindow(windowTitle, width, height, margin)

	go func() {
		<-stopCh
		win.Perform(system.ActionClose)
	}()

	var ops op.Ops
	for {
		switch e := win.Event().(type) {
		case app.DestroyEvent:
			if e.Err != nil {
				w.logger.Warn("overlay window closed", zap.Error(e.Err))
			}
			return
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			w.mu.Lock()
			card := w.card
			w.mu.Unlock()
			if card != nil {
				w.draw(gtx, *card)
			}
			e.Frame(gtx.Ops)
		}
	}
}

func (w *Window) draw(gtx layout.Context, card backend.Card) {
	for {
		event, ok := gtx.Event(key.Filter{Name: key.NameEscape})
		if !ok {
			break
		}
		if e, ok := event.(key.Event); ok && e.State == key.Press {
			w.dismiss()
			return
		}
	}
	if w.closeBtn.Clicked(gtx) {
		w.dismiss()
		return
	}
	if w.copyBtn.Clicked(gtx) {
		w.mu.Lock()
		fn := w.onCopy
		w.mu.Unlock()
		if fn != nil {
			go fn(card)
		}
		w.copiedAt = gtx.Now
	}

	copied := gtx.Now.Sub(w.copiedAt) < copiedFor
	if copied {
		gtx.Execute(op.InvalidateCmd{At: w.copiedAt.Add(copiedFor)})
	}
	drawCard(gtx, w.config, card, &w.list, &w.closeBtn, &w.copyBtn, copied)
}

func (w *Window) dismiss() {
	w.mu.Lock()
	fn := w.onClose
	w.mu.Unlock()
	if fn != nil {
		go fn()
	}
	go w.Hide()
}

// FitSize estimates the window size for card, clamped to
// MinWidth..MaxWidth and MinHeight..MaxHeight.
func FitSize(card backend.Card) (width, height int) {
	longest := textWidth(card.Title, titleCharW) + closeBtnWidth + sectionGap
	for _, line := range card.Content {
		if lw := textWidth(line, charWidth); lw > longest {
			longest = lw
		}
	}
	width = clamp(int(math.Ceil(longest))+2*padding+chrome, MinWidth, MaxWidth)

	inner := float64(width - 2*padding - chrome)
	h := titleHeight + sectionGap
	for _, line := range card.Content {
		h += wrappedLines(textWidth(line, charWidth), inner) * lineHeight
	}
	h += sectionGap + footerHeight
	height = clamp(h+2*padding+chrome, MinHeight, MaxHeight)
	return width, height
}

// textWidth approximates the rendered width of s; wide (CJK) runes count
// double.
func textWidth(s string, perRune float64) float64 {
	units := 0
	for _, r := range s {
		units++
		if isWide(r) {
			units++
		}
	}
	return float64(units) * perRune
}

func isWide(r rune) bool {
	return r >= utf8.RuneSelf && (unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r) ||
		(r >= 0xFF00 && r <= 0xFFEF))
}

func wrappedLines(textW, inner float64) int {
	if textW <= 0 || inner <= 0 {
		return 1
	}
	return int(math.Ceil(textW / inner))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// topRight returns the window origin for the top-right corner of a screen.
func topRight(screenWidth, width, margin int) (x, y int) {
	x = screenWidth - width - margin
	if x < 0 {
		x = 0
	}
	return x, margin
}

// parseGeometry parses "WIDTH HEIGHT" as printed by xdotool getdisplaygeometry.
func parseGeometry(out string) (width, height int) {
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0
	}
	width, errW := strconv.Atoi(parts[0])
	height, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0
	}
	return width, height
}
