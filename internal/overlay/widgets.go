package overlay

import (
	"image"
	"image/color"
	"strings"

	"gioui.org/f32"
	"gioui.org/font"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"recallai/internal/backend"
	"recallai/internal/i18n"
)

// drawCard draws the card: header with close button, content lines, then
// tags and the copy button.
func drawCard(gtx layout.Context, cfg Config, card backend.Card, list *widget.List, closeBtn, copyBtn *widget.Clickable, copied bool) {
	paint.FillShape(gtx.Ops, cfg.BGColor, clip.Rect{Max: gtx.Constraints.Max}.Op())

	th := material.NewTheme()

	layout.UniformInset(unit.Dp(chrome/2)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		panel := clip.UniformRRect(image.Rectangle{Max: gtx.Constraints.Max}, gtx.Dp(unit.Dp(10)))
		paint.FillShape(gtx.Ops, cfg.PanelColor, panel.Op(gtx.Ops))

		return layout.UniformInset(unit.Dp(padding)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				// Title row
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
						layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
							th.Palette.Fg = cfg.TextColor
							lbl := material.Label(th, unit.Sp(16), card.Title)
							lbl.Font.Weight = font.Medium
							return lbl.Layout(gtx)
						}),
						layout.Rigid(layout.Spacer{Width: unit.Dp(sectionGap)}.Layout),
						layout.Rigid(func(gtx layout.Context) layout.Dimensions {
							th.Palette.Fg = cfg.TextDimColor
							return material.Label(th, unit.Sp(10), i18n.T("overlay_close")).Layout(gtx)
						}),
						layout.Rigid(layout.Spacer{Width: unit.Dp(4)}.Layout),
						layout.Rigid(func(gtx layout.Context) layout.Dimensions {
							return drawCloseButton(gtx, closeBtn, cfg.TextDimColor)
						}),
					)
				}),

				layout.Rigid(layout.Spacer{Height: unit.Dp(sectionGap)}.Layout),

				// Content lines
				layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
					return material.List(th, list).Layout(gtx, len(card.Content), func(gtx layout.Context, i int) layout.Dimensions {
						th.Palette.Fg = cfg.TextColor
						lbl := material.Label(th, unit.Sp(14), "• "+card.Content[i])
						return layout.Inset{Bottom: unit.Dp(4)}.Layout(gtx, lbl.Layout)
					})
				}),

				// Tags and copy button
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					return layout.Inset{Top: unit.Dp(sectionGap)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
						return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
							layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
								th.Palette.Fg = cfg.AccentColor
								return material.Label(th, unit.Sp(11), formatTags(card.Tags)).Layout(gtx)
							}),
							layout.Rigid(func(gtx layout.Context) layout.Dimensions {
								label := i18n.T("overlay_copy")
								if copied {
									label = i18n.T("overlay_copied")
								}
								return drawOutlineButton(gtx, copyBtn, cfg.AccentColor, label)
							}),
						)
					})
				}),
			)
		})
	})
}

func formatTags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, "#"+t)
		}
	}
	return strings.Join(out, "  ")
}

// drawCloseButton draws an X that gets a round highlight under the pointer.
func drawCloseButton(gtx layout.Context, btn *widget.Clickable, col color.NRGBA) layout.Dimensions {
	return btn.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		size := gtx.Dp(unit.Dp(closeBtnWidth))
		if btn.Hovered() {
			disc := clip.Ellipse{Max: image.Pt(size, size)}
			paint.FillShape(gtx.Ops, withAlpha(col, 60), disc.Op(gtx.Ops))
			col = shade(col, 1.4)
		}

		lo, hi := float32(size)*0.3, float32(size)*0.7
		var cross clip.Path
		cross.Begin(gtx.Ops)
		cross.MoveTo(f32.Pt(lo, lo))
		cross.LineTo(f32.Pt(hi, hi))
		cross.MoveTo(f32.Pt(hi, lo))
		cross.LineTo(f32.Pt(lo, hi))
		stroke := clip.Stroke{Path: cross.End(), Width: float32(gtx.Dp(unit.Dp(1.5)))}
		paint.FillShape(gtx.Ops, col, stroke.Op())

		return layout.Dimensions{Size: image.Pt(size, size)}
	})
}

// drawOutlineButton draws a rounded button with a border and text in col;
// hovering fills it with a translucent col.
func drawOutlineButton(gtx layout.Context, btn *widget.Clickable, col color.NRGBA, label string) layout.Dimensions {
	return btn.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		th := material.NewTheme()
		th.Palette.Fg = col

		// The label is laid out first so the border can wrap it.
		rec := op.Record(gtx.Ops)
		dims := layout.Inset{
			Top: unit.Dp(5), Bottom: unit.Dp(5), Left: unit.Dp(10), Right: unit.Dp(10),
		}.Layout(gtx, material.Label(th, unit.Sp(12), label).Layout)
		text := rec.Stop()

		r := gtx.Dp(unit.Dp(12))
		shape := clip.UniformRRect(image.Rectangle{Max: dims.Size}, r)
		if btn.Hovered() {
			paint.FillShape(gtx.Ops, withAlpha(col, 40), shape.Op(gtx.Ops))
		}
		border := clip.Stroke{Path: shape.Path(gtx.Ops), Width: float32(gtx.Dp(unit.Dp(1)))}
		paint.FillShape(gtx.Ops, col, border.Op())

		text.Add(gtx.Ops)
		return dims
	})
}

func withAlpha(c color.NRGBA, a uint8) color.NRGBA {
	c.A = a
	return c
}

// shade scales the color channels by f, saturating at 255.
func shade(c color.NRGBA, f float32) color.NRGBA {
	ch := func(v uint8) uint8 {
		return uint8(min(float32(v)*f, 255))
	}
	return color.NRGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: c.A}
}
