// Package startup provides a loading window shown while the backend starts.
package startup

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"gioui.org/app"
	"gioui.org/font"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"recallai/internal/i18n"
	"recallai/internal/supervisor"
)

var (
	colorBG     = color.NRGBA{R: 30, G: 30, B: 34, A: 255}
	colorText   = color.NRGBA{R: 240, G: 240, B: 245, A: 255}
	colorDim    = color.NRGBA{R: 140, G: 140, B: 150, A: 255}
	colorAccent = color.NRGBA{R: 88, G: 166, B: 255, A: 255}
	colorError  = color.NRGBA{R: 255, G: 100, B: 100, A: 255}
)

const windowTitle = "RecallAI"

// Window geometry and animation timing.
const (
	windowWidth  = 320
	windowHeight = 160
	frameEvery   = 40 * time.Millisecond
	pulsePeriod  = 1200 * time.Millisecond
	dotCount     = 3
)

// view is what the window renders on the next frame.
type view struct {
	status    string
	substatus string
	failed    bool
	since     time.Time // when the current state began
}

// Window represents the startup loading window.
type Window struct {
	mu      sync.Mutex
	window  *app.Window
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	view    view
}

// New creates a new startup window.
func New() *Window {
	return &Window{
		view: view{status: i18n.T("startup_starting"), since: time.Now()},
	}
}

// Show displays the loading window.
func (w *Window) Show() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.runEventLoop(w.stopCh, w.doneCh)
}

// Hide closes the loading window and waits up to a second for it to go.
func (w *Window) Hide() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.stopCh = nil
	w.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(time.Second):
	}
}

// IsVisible returns true while the window is shown.
func (w *Window) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// SetStatus updates the loading status text.
func (w *Window) SetStatus(status, substatus string) {
	w.update(view{status: status, substatus: substatus})
}

// Follow updates the text from the supervisor status. It reports true once
// the backend is running and the window can be hidden.
func (w *Window) Follow(st supervisor.Status) bool {
	status, substatus, ready := Describe(st)
	w.update(view{
		status:    status,
		substatus: substatus,
		failed:    st.State == supervisor.StateFailed,
	})
	return ready
}

// update replaces the view; the elapsed timer restarts only when the
// status line changes.
func (w *Window) update(v view) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v.since = w.view.since
	if v.status != w.view.status || v.since.IsZero() {
		v.since = time.Now()
	}
	w.view = v
	if w.window != nil {
		w.window.Invalidate()
	}
}

func (w *Window) snapshot() view {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// Describe returns the status lines for a supervisor status.
func Describe(st supervisor.Status) (status, substatus string, ready bool) {
	switch st.State {
	case supervisor.StateRunning:
		return i18n.T("startup_ready"), "", true
	case supervisor.StateRestarting:
		return i18n.T("startup_restarting"), st.LastError, false
	case supervisor.StateFailed:
		return i18n.T("startup_failed"), st.LastError, false
	case supervisor.StateStarting:
		if st.PID != 0 {
			return i18n.T("startup_waiting"), "", false
		}
		return i18n.T("startup_starting"), "", false
	default:
		return i18n.T("startup_starting"), st.LastError, false
	}
}

// elapsed formats d as whole seconds, or minutes and seconds past a minute.
func elapsed(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}

// pulse returns the alpha of dot i at time t: a wave running left to right.
func pulse(t time.Time, i int) uint8 {
	phase := float64(t.UnixMilli()%pulsePeriod.Milliseconds()) / float64(pulsePeriod.Milliseconds())
	wave := math.Sin(2*math.Pi*(phase-float64(i)/dotCount))*0.5 + 0.5
	return uint8(70 + wave*185)
}

func (w *Window) runEventLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	size := app.Size(unit.Dp(windowWidth), unit.Dp(windowHeight))
	win := new(app.Window)
	win.Option(
		app.Title(windowTitle),
		size,
		app.MinSize(unit.Dp(windowWidth), unit.Dp(windowHeight)),
		app.MaxSize(unit.Dp(windowWidth), unit.Dp(windowHeight)),
	)
	w.mu.Lock()
	w.window = win
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.window = nil
		w.mu.Unlock()
	}()

	go func() {
		ticker := time.NewTicker(frameEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				win.Perform(system.ActionClose)
				return
			case <-ticker.C:
				win.Invalidate()
			}
		}
	}()

	var ops op.Ops
	for {
		switch e := win.Event().(type) {
		case app.DestroyEvent:
			return
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			draw(gtx, w.snapshot(), e.Now)
			e.Frame(gtx.Ops)
		}
	}
}

func draw(gtx layout.Context, v view, now time.Time) layout.Dimensions {
	paint.FillShape(gtx.Ops, colorBG, clip.Rect{Max: gtx.Constraints.Max}.Op())

	th := material.NewTheme()
	label := func(size unit.Sp, col color.NRGBA, txt string) material.LabelStyle {
		th.Palette.Fg = col
		lbl := material.Label(th, size, txt)
		lbl.Alignment = text.Middle
		return lbl
	}

	statusColor := colorText
	if v.failed {
		statusColor = colorError
	}
	detail := v.substatus
	if detail == "" && !v.failed {
		detail = elapsed(now.Sub(v.since))
	}

	return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if v.failed {
					return layout.Dimensions{}
				}
				return layout.Inset{Bottom: unit.Dp(18)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					return drawDots(gtx, now)
				})
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				lbl := label(unit.Sp(14), statusColor, v.status)
				lbl.Font.Weight = font.Medium
				return lbl.Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if detail == "" {
					return layout.Dimensions{}
				}
				return layout.Inset{Top: unit.Dp(6)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					lbl := label(unit.Sp(11), colorDim, detail)
					lbl.MaxLines = 2
					return lbl.Layout(gtx)
				})
			}),
		)
	})
}

// drawDots draws a row of pulsing dots.
func drawDots(gtx layout.Context, now time.Time) layout.Dimensions {
	d := gtx.Dp(unit.Dp(10))
	gap := gtx.Dp(unit.Dp(8))
	for i := range dotCount {
		x := i * (d + gap)
		col := colorAccent
		col.A = pulse(now, i)
		dot := clip.Ellipse{Min: image.Pt(x, 0), Max: image.Pt(x+d, d)}
		paint.FillShape(gtx.Ops, col, dot.Op(gtx.Ops))
	}
	return layout.Dimensions{Size: image.Pt(dotCount*d+(dotCount-1)*gap, d)}
}
