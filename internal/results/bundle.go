package results

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/san-kum/patchsim/internal/antenna"
)

const BundleVersion = 1

// Bundle is the JSON result document: the record, its figures of merit and
// the geometry it was solved for.
type Bundle struct {
	Version        int                          `json:"version"`
	RunID          string                       `json:"run_id,omitempty"`
	Record         *Record                      `json:"record"`
	Merit          Merit                        `json:"merit"`
	Parameters     *antenna.GeometricParameters `json:"parameters,omitempty"`
	GeometryDigest string                       `json:"geometry_digest,omitempty"`
}

const bundleSchemaURL = "https://patchsim.local/schemas/bundle.schema.json"

const bundleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "record", "merit"],
  "properties": {
    "version": {"const": 1},
    "record": {
      "type": "object",
      "required": ["spec", "setup", "sweep", "solved_at", "ports", "reference_z0", "frequencies", "s", "s11_db", "vswr", "meta"],
      "properties": {
        "spec": {
          "type": "object",
          "required": ["frequency_hz", "permittivity", "thickness_mm"],
          "properties": {
            "frequency_hz": {"type": "number"},
            "permittivity": {"type": "number"},
            "thickness_mm": {"type": "number"}
          }
        },
        "ports": {"type": "integer", "minimum": 1},
        "reference_z0": {"type": "number", "exclusiveMinimum": 0},
        "frequencies": {"type": "array", "minItems": 1, "items": {"type": "number"}},
        "s": {
          "type": "array",
          "items": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["re", "im"],
              "properties": {"re": {"type": "number"}, "im": {"type": "number"}}
            }
          }
        },
        "s11_db": {"type": "array", "items": {"type": "number"}},
        "vswr": {"type": "array", "items": {"type": "number", "minimum": 1}},
        "pattern": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["theta_deg", "phi_deg", "gain_dbi"]
          }
        }
      }
    },
    "merit": {"type": "object", "required": ["resonance_hz", "min_s11_db"]}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func bundleValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(bundleSchemaURL, strings.NewReader(bundleSchema)); err != nil {
			schemaErr = fmt.Errorf("bundle schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(bundleSchemaURL)
	})
	return schema, schemaErr
}

// NewBundle assembles a bundle, computing figures of merit at the design frequency.
func NewBundle(r *Record, params *antenna.GeometricParameters, geometryDigest string) Bundle {
	return Bundle{
		Version:        BundleVersion,
		Record:         r,
		Merit:          Evaluate(r, 0),
		Parameters:     params,
		GeometryDigest: geometryDigest,
	}
}

func WriteJSON(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// ReadJSON validates data against the bundle schema and decodes it.
func ReadJSON(r io.Reader) (Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Bundle{}, err
	}
	sch, err := bundleValidator()
	if err != nil {
		return Bundle{}, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := sch.Validate(doc); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	rec := b.Record
	if len(rec.S) != len(rec.Frequencies) || len(rec.S11DB) != len(rec.Frequencies) || len(rec.VSWR) != len(rec.Frequencies) {
		return Bundle{}, fmt.Errorf("%w: column lengths differ", ErrFormat)
	}
	return b, nil
}

// Digest is a SHA-256 over the canonical JSON of the record. Records
// extracted from the same solve share a digest.
func Digest(r *Record) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
