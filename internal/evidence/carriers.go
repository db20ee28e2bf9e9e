package evidence

import (
	_ "embed"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback carrier for names not in the table.
const (
	CarrierOther   = "OTHER"
	CarrierUnknown = "Unknown"
)

//go:embed carriers.yaml
var carriersYAML []byte

// Carrier is a resolved shipping carrier.
type Carrier struct {
	Code string // PayPal carrier enum
	Name string
}

// Carriers maps carrier names to codes.
type Carriers struct {
	byName map[string]string
}

type carrierFile struct {
	Carriers map[string]string `yaml:"carriers"`
}

// ParseCarriers loads a carrier table. A table that does not parse yields an
// empty mapping, so every lookup falls back to OTHER.
func ParseCarriers(data []byte, log *slog.Logger) *Carriers {
	var f carrierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Error("invalid carrier table, using empty mapping", "error", err)
		return &Carriers{byName: map[string]string{}}
	}

	byName := make(map[string]string, len(f.Carriers))
	for name, code := range f.Carriers {
		byName[normalize(name)] = code
	}
	return &Carriers{byName: byName}
}

// DefaultCarriers loads the embedded table.
func DefaultCarriers(log *slog.Logger) *Carriers {
	return ParseCarriers(carriersYAML, log)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup returns the code for an exact, case-insensitive match of the trimmed
// name.
func (c *Carriers) Lookup(name string) (string, bool) {
	code, ok := c.byName[normalize(name)]
	return code, ok
}

// Resolve returns the carrier for the name, or OTHER/Unknown.
func (c *Carriers) Resolve(name string) Carrier {
	if code, ok := c.Lookup(name); ok {
		return Carrier{Code: code, Name: strings.TrimSpace(name)}
	}
	return Carrier{Code: CarrierOther, Name: CarrierUnknown}
}

// Len returns the number of known carrier names.
func (c *Carriers) Len() int { return len(c.byName) }
