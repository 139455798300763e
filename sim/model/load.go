package model

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML model file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	p, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing model %s: %w", path, err)
	}
	return p, nil
}

// Decode parses a YAML model from r with strict field checking.
func Decode(r io.Reader) (*Project, error) {
	var p Project
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode writes p as YAML to w.
func Encode(w io.Writer, p *Project) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	return enc.Close()
}

// Save writes p as YAML to path.
func Save(path string, p *Project) error {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}
