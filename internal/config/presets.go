package config

import "sort"

// Preset is a named design starting point.
type Preset struct {
	Description string
	Design      DesignConfig
}

var Presets = map[string]Preset{
	"wifi-2g4": {
		Description: "2.45 GHz WLAN patch on 1.6 mm FR4",
		Design: DesignConfig{
			FrequencyHz: 2.45e9, Permittivity: 4.4, LossTangent: 0.02, ThicknessMM: 1.6,
			ImpedanceOhm: 50, ConductorThicknessMM: 0.035, Substrate: "FR4",
		},
	},
	"gps-l1": {
		Description: "1575.42 MHz GPS L1 patch on Rogers RO4003C",
		Design: DesignConfig{
			FrequencyHz: 1.57542e9, Permittivity: 3.55, LossTangent: 0.0027, ThicknessMM: 1.524,
			ImpedanceOhm: 50, ConductorThicknessMM: 0.035, Substrate: "RO4003C",
		},
	},
	"ism-5g8": {
		Description: "5.8 GHz ISM patch on 0.8 mm FR4",
		Design: DesignConfig{
			FrequencyHz: 5.8e9, Permittivity: 4.4, LossTangent: 0.02, ThicknessMM: 0.8,
			ImpedanceOhm: 50, ConductorThicknessMM: 0.035, Substrate: "FR4",
		},
	},
	"rogers-2g4": {
		Description: "2.4 GHz patch on 1.575 mm RT/duroid 5880",
		Design: DesignConfig{
			FrequencyHz: 2.4e9, Permittivity: 2.2, LossTangent: 0.0009, ThicknessMM: 1.575,
			ImpedanceOhm: 50, ConductorThicknessMM: 0.035, Substrate: "RT5880",
		},
	},
}

// GetPreset returns the default configuration with the named design
// applied, or nil when no such preset exists.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Design = p.Design
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
