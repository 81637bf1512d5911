package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/san-kum/patchsim/internal/engine"
)

var csvHeader = []string{"frequency_hz", "s11_re", "s11_im", "s11_db", "vswr", "zin_re_ohm", "zin_im_ohm"}

// legacyCSVColumns is the width of files written before the impedance
// columns existed.
const legacyCSVColumns = 5

// WriteCSV writes the port-1 reflection and its derived quantities.
func WriteCSV(w io.Writer, r *Record) error {
	return WriteSweepCSV(w, SweepOf(r))
}

// WriteSweepCSV writes s in the WriteCSV layout. A sweep read from a file
// without impedance columns gets them derived from S11 against
// DefaultReferenceZ0.
func WriteSweepCSV(w io.Writer, s Sweep) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i, f := range s.Frequencies {
		var z complex128
		if i < len(s.Zin) {
			z = s.Zin[i].C128()
		} else {
			z = storedImpedance(InputImpedance(s.S11[i].C128(), DefaultReferenceZ0))
		}
		row := []string{
			formatFloat(f),
			formatFloat(s.S11[i].Re),
			formatFloat(s.S11[i].Im),
			formatFloat(s.S11DB[i]),
			formatFloat(s.VSWR[i]),
			formatFloat(real(z)),
			formatFloat(imag(z)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SweepOf returns the tabular view of r's port-1 reflection.
func SweepOf(r *Record) Sweep {
	s := Sweep{
		Frequencies: r.Frequencies,
		S11:         make([]engine.Complex, len(r.Frequencies)),
		S11DB:       r.S11DB,
		VSWR:        r.VSWR,
		Zin:         make([]engine.Complex, len(r.Frequencies)),
	}
	for i := range r.Frequencies {
		s.S11[i] = r.S[i][0]
		s.Zin[i] = engine.FromComplex(r.Zin(i))
	}
	return s
}

// Sweep is the tabular view of a one-port record.
type Sweep struct {
	Frequencies []float64
	S11         []engine.Complex
	S11DB       []float64
	VSWR        []float64
	// Zin is empty for files without the impedance columns.
	Zin []engine.Complex
}

// ReadCSV parses the output of WriteCSV, including files from before the
// impedance columns were added.
func ReadCSV(r io.Reader) (Sweep, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return Sweep{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(rows) == 0 {
		return Sweep{}, fmt.Errorf("%w: empty file", ErrFormat)
	}
	cols := len(rows[0])
	if cols != len(csvHeader) && cols != legacyCSVColumns {
		return Sweep{}, fmt.Errorf("%w: %d columns", ErrFormat, cols)
	}
	for i, h := range csvHeader[:cols] {
		if rows[0][i] != h {
			return Sweep{}, fmt.Errorf("%w: column %d is %q, want %q", ErrFormat, i, rows[0][i], h)
		}
	}

	var s Sweep
	for _, row := range rows[1:] {
		var v [7]float64
		for i, field := range row {
			v[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return Sweep{}, fmt.Errorf("%w: %q", ErrFormat, field)
			}
		}
		s.Frequencies = append(s.Frequencies, v[0])
		s.S11 = append(s.S11, engine.Complex{Re: v[1], Im: v[2]})
		s.S11DB = append(s.S11DB, v[3])
		s.VSWR = append(s.VSWR, v[4])
		if cols == len(csvHeader) {
			s.Zin = append(s.Zin, engine.Complex{Re: v[5], Im: v[6]})
		}
	}
	return s, nil
}
