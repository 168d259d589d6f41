package visitcounter

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	badgeHeight  = 20
	badgePadding = 6
)

var (
	badgeLabelBG = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
	badgeValueBG = color.RGBA{R: 0x2b, G: 0x7a, B: 0xc9, A: 0xff}
)

// RenderBadge draws a two-part "label | count" badge and encodes it as PNG.
func RenderBadge(w io.Writer, label string, count int) error {
	face := basicfont.Face7x13
	value := strconv.Itoa(count)

	labelWidth := font.MeasureString(face, label).Ceil() + 2*badgePadding
	valueWidth := font.MeasureString(face, value).Ceil() + 2*badgePadding

	img := image.NewRGBA(image.Rect(0, 0, labelWidth+valueWidth, badgeHeight))
	draw.Draw(img, image.Rect(0, 0, labelWidth, badgeHeight), image.NewUniform(badgeLabelBG), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(labelWidth, 0, labelWidth+valueWidth, badgeHeight), image.NewUniform(badgeValueBG), image.Point{}, draw.Src)

	// Center the 13px glyph box vertically; Dot sits on the baseline.
	baseline := (badgeHeight-face.Height)/2 + face.Ascent
	d := &font.Drawer{Dst: img, Src: image.White, Face: face}
	d.Dot = fixed.P(badgePadding, baseline)
	d.DrawString(label)
	d.Dot = fixed.P(labelWidth+badgePadding, baseline)
	d.DrawString(value)

	return png.Encode(w, img)
}
