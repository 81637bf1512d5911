// Package geometry translates synthesized dimensions into an ordered,
// self-contained sequence of modelling commands for an EM engine.
package geometry

// Kind tags the variant carried by a Command.
type Kind string

const (
	KindCreateSubstrate       Kind = "CreateSubstrate"
	KindCreateGroundPlane     Kind = "CreateGroundPlane"
	KindCreatePatch           Kind = "CreatePatch"
	KindCreatePort            Kind = "CreatePort"
	KindAssignBoundary        Kind = "AssignBoundary"
	KindCreateRadiationRegion Kind = "CreateRadiationRegion"
)

// BoundaryType names the boundary conditions the builder assigns.
type BoundaryType string

const (
	BoundaryPerfectE  BoundaryType = "PerfectE"
	BoundaryRadiation BoundaryType = "Radiation"
)

// Axis is the normal of a sheet.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
)

// Vec3 is a point or extent in millimetres.
type Vec3 [3]float64

// Material describes a dielectric.
type Material struct {
	Name         string  `json:"name" yaml:"name"`
	Permittivity float64 `json:"permittivity" yaml:"permittivity"`
	LossTangent  float64 `json:"loss_tangent" yaml:"loss_tangent"`
}

// Box is an axis-aligned solid. Size components may be negative, in which
// case the box extends from Origin in the negative direction.
type Box struct {
	Origin   Vec3     `json:"origin" yaml:"origin"`
	Size     Vec3     `json:"size" yaml:"size"`
	Material Material `json:"material" yaml:"material"`
}

// Sheet is a zero-thickness rectangle. Size holds the two in-plane extents
// in axis order (X,Y for a Z sheet; X,Z for a Y sheet; Y,Z for an X sheet).
type Sheet struct {
	Origin Vec3       `json:"origin" yaml:"origin"`
	Size   [2]float64 `json:"size" yaml:"size"`
	Axis   Axis       `json:"axis" yaml:"axis"`
}

// Port is a lumped port excitation on a sheet.
type Port struct {
	Sheet        Sheet   `json:"sheet" yaml:"sheet"`
	ImpedanceOhm float64 `json:"impedance_ohm" yaml:"impedance_ohm"`
	// Integration line runs from ground to patch through the sheet centre.
	LineStart Vec3 `json:"line_start" yaml:"line_start"`
	LineStop  Vec3 `json:"line_stop" yaml:"line_stop"`
	// ConductorThicknessMM is recorded so engines can model the strip.
	ConductorThicknessMM float64 `json:"conductor_thickness_mm" yaml:"conductor_thickness_mm"`
}

// Boundary assigns a boundary condition to previously created objects.
type Boundary struct {
	Type    BoundaryType `json:"type" yaml:"type"`
	Targets []string     `json:"targets" yaml:"targets"`
}

// Region is the air box enclosing the model.
type Region struct {
	Box       Box     `json:"box" yaml:"box"`
	PaddingMM float64 `json:"padding_mm" yaml:"padding_mm"`
}

// Command is one construction step. Exactly one payload matching Kind is set.
type Command struct {
	Kind     Kind      `json:"kind" yaml:"kind"`
	Name     string    `json:"name" yaml:"name"`
	Box      *Box      `json:"box,omitempty" yaml:"box,omitempty"`
	Sheet    *Sheet    `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	Port     *Port     `json:"port,omitempty" yaml:"port,omitempty"`
	Boundary *Boundary `json:"boundary,omitempty" yaml:"boundary,omitempty"`
	Region   *Region   `json:"region,omitempty" yaml:"region,omitempty"`
}

// References lists the names this command depends on.
func (c Command) References() []string {
	if c.Boundary != nil {
		return c.Boundary.Targets
	}
	return nil
}

// Sequence is an ordered list of commands; order encodes construction dependency.
type Sequence []Command

// Find returns the first command with the given name.
func (s Sequence) Find(name string) (Command, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// OfKind returns the commands of one kind, in order.
func (s Sequence) OfKind(k Kind) []Command {
	var out []Command
	for _, c := range s {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// BoundaryFor returns the boundary type assigned to name, if any.
func (s Sequence) BoundaryFor(name string) (BoundaryType, bool) {
	for _, c := range s {
		if c.Kind != KindAssignBoundary || c.Boundary == nil {
			continue
		}
		for _, t := range c.Boundary.Targets {
			if t == name {
				return c.Boundary.Type, true
			}
		}
	}
	return "", false
}
