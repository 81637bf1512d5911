package results

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/san-kum/patchsim/internal/engine"
)

// Network is the content of a Touchstone file.
type Network struct {
	Ports       int
	ReferenceZ0 float64
	Frequencies []float64
	S           [][]engine.Complex
}

// NetworkOf returns the network view of r.
func NetworkOf(r *Record) Network {
	return Network{Ports: r.Ports, ReferenceZ0: r.ReferenceZ0, Frequencies: r.Frequencies, S: r.S}
}

// WriteTouchstone writes a version 1 file in Hz, real/imaginary format.
// Two-port data uses the S11 S21 S12 S22 column order the format requires.
// Larger networks start every matrix row on a new line and carry at most
// four pairs per line.
func WriteTouchstone(w io.Writer, n Network, comments ...string) error {
	bw := bufio.NewWriter(w)
	for _, c := range comments {
		fmt.Fprintf(bw, "! %s\n", c)
	}
	fmt.Fprintf(bw, "# Hz S RI R %s\n", formatFloat(n.ReferenceZ0))

	for i, f := range n.Frequencies {
		pairs := touchstoneOrder(n.S[i], n.Ports)
		bw.WriteString(formatFloat(f))
		for j, c := range pairs {
			if n.Ports > 2 && j > 0 && j%n.Ports%4 == 0 {
				bw.WriteString("\n")
			}
			bw.WriteString(" ")
			bw.WriteString(formatFloat(c.Re))
			bw.WriteString(" ")
			bw.WriteString(formatFloat(c.Im))
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

func touchstoneOrder(m []engine.Complex, ports int) []engine.Complex {
	if ports != 2 {
		return m
	}
	return []engine.Complex{m[0], m[2], m[1], m[3]}
}

// ReadTouchstone parses a version 1 file with the given number of ports.
// RI, MA and DB formats and Hz/kHz/MHz/GHz units are accepted.
func ReadTouchstone(r io.Reader, ports int) (Network, error) {
	if ports < 1 {
		return Network{}, fmt.Errorf("%w: ports must be >= 1", ErrFormat)
	}
	n := Network{Ports: ports, ReferenceZ0: DefaultReferenceZ0}
	unit, format := 1e9, "MA"
	sawOption := false

	var values []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '!'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if sawOption {
				continue
			}
			sawOption = true
			var err error
			unit, format, n.ReferenceZ0, err = parseOptionLine(line)
			if err != nil {
				return Network{}, err
			}
			continue
		}
		for _, field := range strings.Fields(line) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Network{}, fmt.Errorf("%w: %q", ErrFormat, field)
			}
			values = append(values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return Network{}, err
	}

	per := 1 + 2*ports*ports
	if len(values) == 0 || len(values)%per != 0 {
		return Network{}, fmt.Errorf("%w: %d values is not a multiple of %d", ErrFormat, len(values), per)
	}
	for k := 0; k < len(values); k += per {
		n.Frequencies = append(n.Frequencies, values[k]*unit)
		m := make([]engine.Complex, ports*ports)
		for j := range m {
			m[j] = toComplex(values[k+1+2*j], values[k+2+2*j], format)
		}
		n.S = append(n.S, touchstoneOrder(m, ports))
	}
	return n, nil
}

func parseOptionLine(line string) (unit float64, format string, z0 float64, err error) {
	unit, format, z0 = 1e9, "MA", DefaultReferenceZ0
	fields := strings.Fields(strings.ToUpper(strings.TrimPrefix(line, "#")))
	for i := 0; i < len(fields); i++ {
		switch f := fields[i]; f {
		case "HZ":
			unit = 1
		case "KHZ":
			unit = 1e3
		case "MHZ":
			unit = 1e6
		case "GHZ":
			unit = 1e9
		case "RI", "MA", "DB":
			format = f
		case "S":
		case "Y", "Z", "H", "G":
			return 0, "", 0, fmt.Errorf("%w: only S parameters are supported, got %s", ErrFormat, f)
		case "R":
			if i+1 >= len(fields) {
				return 0, "", 0, fmt.Errorf("%w: R without a value", ErrFormat)
			}
			i++
			z0, err = strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return 0, "", 0, fmt.Errorf("%w: reference %q", ErrFormat, fields[i])
			}
		}
	}
	return unit, format, z0, nil
}

func toComplex(a, b float64, format string) engine.Complex {
	switch format {
	case "RI":
		return engine.Complex{Re: a, Im: b}
	case "DB":
		a = MagnitudeFromDB(a)
	}
	rad := b * math.Pi / 180
	return engine.Complex{Re: a * math.Cos(rad), Im: a * math.Sin(rad)}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
