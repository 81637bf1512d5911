// Package antenna turns a patch antenna design intent into physical
// dimensions using closed-form microstrip theory.
//
// The synthesizer is pure and deterministic:
//
//   - [DesignSpec]: operating frequency, substrate and feed impedance targets
//   - [GeometricParameters]: patch, ground plane and feed dimensions in mm
//   - [Synthesize]: the transformation between the two
//
// Lengths are millimetres and frequencies hertz throughout.
//
// # Example
//
//	spec, _ := antenna.NewDesignSpec(2.4e9, 4.4, 1.57, 50)
//	params, err := antenna.Synthesize(spec)
package antenna
