// Package viz renders designs and results in the terminal: a braille top
// view of the patch layout, asciigraph plots of S11, VSWR and radiation
// cuts, and a Bubble Tea monitor that follows a run's state transitions.
package viz
