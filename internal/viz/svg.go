package viz

import (
	"fmt"
	"strings"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/results"
)

const svgHeader = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`

// LayoutSVG draws the top view of p to scale, pxPerMM pixels per millimetre.
func LayoutSVG(p antenna.GeometricParameters, pxPerMM float64) string {
	if pxPerMM <= 0 {
		pxPerMM = 4
	}
	w, h := p.GroundWidthMM*pxPerMM, p.GroundLengthMM*pxPerMM
	// Origin at the ground centre, y up.
	x := func(mm float64) float64 { return w/2 + mm*pxPerMM }
	y := func(mm float64) float64 { return h/2 - mm*pxPerMM }
	rect := func(sb *strings.Builder, x0, y0, x1, y1 float64, fill string) {
		fmt.Fprintf(sb, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"/>`+"\n",
			x(x0), y(y1), (x1-x0)*pxPerMM, (y1-y0)*pxPerMM, fill)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, w, h, w, h)
	rect(&sb, -p.GroundWidthMM/2, -p.GroundLengthMM/2, p.GroundWidthMM/2, p.GroundLengthMM/2, "#2a4a2a")
	rect(&sb, -p.PatchWidthMM/2, -p.PatchLengthMM/2, p.PatchWidthMM/2, p.PatchLengthMM/2, "#d4a017")

	feedY := -p.PatchLengthMM/2 + p.FeedOffsetMM
	rect(&sb, -p.FeedWidthMM/2, -p.GroundLengthMM/2, p.FeedWidthMM/2, feedY, "#d4a017")
	fmt.Fprintf(&sb, `<circle cx="%.2f" cy="%.2f" r="%.2f" fill="#ff4444"/>`+"\n", x(0), y(feedY), p.FeedWidthMM*pxPerMM/2)
	sb.WriteString("</svg>\n")
	return sb.String()
}

// CurveSVG plots ys against xs as a polyline scaled to width x height.
func CurveSVG(xs, ys []float64, width, height int, stroke string) string {
	if len(xs) < 2 || len(xs) != len(ys) {
		return ""
	}
	minX, maxX := xs[0], xs[len(xs)-1]
	minY, maxY := ys[0], ys[0]
	for _, v := range ys {
		minY = min(minY, v)
		maxY = max(maxY, v)
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	rangeY *= 1.2

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, float64(width), float64(height), float64(width), float64(height))
	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, stroke)
	for i := range xs {
		px := (xs[i] - minX) / rangeX * float64(width)
		py := float64(height) - (ys[i]-minY)/rangeY*float64(height)
		if i == 0 {
			fmt.Fprintf(&sb, "%.1f,%.1f", px, py)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", px, py)
		}
	}
	sb.WriteString("\"/>\n</svg>\n")
	return sb.String()
}

// S11SVG plots a record's return loss.
func S11SVG(r *results.Record, width, height int) string {
	return CurveSVG(r.Frequencies, r.S11DB, width, height, "#00ccff")
}
