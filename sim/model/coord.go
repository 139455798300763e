package model

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Coord references a site of a layer in the unit cell displaced by Offset
// whole cells from the anchor cell of a process.
// An empty Layer stands for the default layer until the model is resolved.
type Coord struct {
	Site   string
	Layer  string
	Offset [3]int
}

// ParseCoord parses "site.(dx,dy,dz).layer". The offset and the layer may be
// omitted: "site", "site.layer" and "site.(dx,dy,dz)" are accepted, and an
// offset may list fewer than three components.
func ParseCoord(s string) (Coord, error) {
	s = strings.TrimSpace(s)
	var c Coord
	if open := strings.Index(s, ".("); open >= 0 {
		closing := strings.Index(s[open:], ")")
		if closing < 0 {
			return Coord{}, fmt.Errorf("coordinate %q: unterminated offset", s)
		}
		c.Site = s[:open]
		fields := strings.Split(s[open+2:open+closing], ",")
		if len(fields) > 3 {
			return Coord{}, fmt.Errorf("coordinate %q: offset has more than three components", s)
		}
		for i, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return Coord{}, fmt.Errorf("coordinate %q: bad offset component %q", s, f)
			}
			c.Offset[i] = v
		}
		rest := s[open+closing+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ".") || len(rest) == 1 {
				return Coord{}, fmt.Errorf("coordinate %q: expected .layer after offset", s)
			}
			c.Layer = rest[1:]
		}
	} else {
		site, layer, found := strings.Cut(s, ".")
		c.Site = site
		if found {
			c.Layer = layer
		}
	}
	if c.Site == "" {
		return Coord{}, fmt.Errorf("coordinate %q: missing site name", s)
	}
	return c, nil
}

func (c Coord) String() string {
	s := fmt.Sprintf("%s.(%d,%d,%d)", c.Site, c.Offset[0], c.Offset[1], c.Offset[2])
	if c.Layer != "" {
		s += "." + c.Layer
	}
	return s
}

// Sub returns the offset-only coordinate c - o.
func (c Coord) Sub(o Coord) Coord {
	return Coord{Offset: [3]int{
		c.Offset[0] - o.Offset[0],
		c.Offset[1] - o.Offset[1],
		c.Offset[2] - o.Offset[2],
	}}
}

// Less orders coordinates by layer, site name, then offset.
func (c Coord) Less(o Coord) bool {
	if c.Layer != o.Layer {
		return c.Layer < o.Layer
	}
	if c.Site != o.Site {
		return c.Site < o.Site
	}
	for i := range 3 {
		if c.Offset[i] != o.Offset[i] {
			return c.Offset[i] < o.Offset[i]
		}
	}
	return false
}

// UnmarshalYAML accepts the string form documented on ParseCoord.
func (c *Coord) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: coordinate must be a string like site.(0,0,0).layer", value.Line)
	}
	parsed, err := ParseCoord(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = parsed
	return nil
}

// MarshalYAML writes the string form.
func (c Coord) MarshalYAML() (any, error) {
	return c.String(), nil
}

// UnmarshalYAML accepts "A", "A|B" or a sequence of names.
func (s *SpeciesSet) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var names SpeciesSet
		for _, n := range strings.Split(value.Value, "|") {
			names = append(names, strings.TrimSpace(n))
		}
		*s = names
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*s = names
		return nil
	default:
		return fmt.Errorf("line %d: species must be a name or a list of names", value.Line)
	}
}

// MarshalYAML writes the "A|B" form.
func (s SpeciesSet) MarshalYAML() (any, error) {
	return s.String(), nil
}
