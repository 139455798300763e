package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kmc-sim/kmc-sim/sim/compiler"
	"github.com/kmc-sim/kmc-sim/sim/model"
)

var (
	validatePath  string // Path to the model YAML
	normalizePath string // Where to write the completed model
)

// validateCmd checks a model and reports what it compiles to
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a model and compile its decision trees",
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateModel(validatePath, normalizePath, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// validateModel loads the model at path, prints a short report to w and,
// when normalized is set, writes the model with its implicit conditions and
// actions made explicit.
func validateModel(path, normalized string, w io.Writer) error {
	m, err := loadModel(path)
	if err != nil {
		return err
	}
	trees := compiler.Compile(m)
	st := trees.Stats()

	fmt.Fprintf(w, "=== Model %s ===\n", m.Name())
	fmt.Fprintf(w, "Dimension            : %d\n", m.Dimension())
	fmt.Fprintf(w, "Species              : %d (default %s)\n", m.NumSpecies()-1, m.SpeciesName(m.Default()))
	fmt.Fprintf(w, "Site types           : %d\n", m.Slots())
	fmt.Fprintf(w, "Processes            : %d\n", len(m.Rules()))
	fmt.Fprintf(w, "Parameters           : %d\n", len(m.Parameters()))
	fmt.Fprintf(w, "Uses null species    : %t\n", m.UsesNull())
	fmt.Fprintf(w, "Cell volume          : %.6g\n", m.CellVolume())
	fmt.Fprintf(w, "Interaction extent   : %v\n", m.Extent())
	fmt.Fprintf(w, "Tree nodes           : %d\n", st.Nodes)
	fmt.Fprintf(w, "Tree switches        : %d\n", st.Switches)
	fmt.Fprintf(w, "Tree outcomes        : %d\n", st.Outcomes)
	fmt.Fprintf(w, "Tree depth           : %d\n", st.Depth)
	fmt.Fprintln(w, "--- Site Positions ---")
	for _, site := range m.SiteTypes() {
		pos := m.CartesianPosition(site.Slot, [3]int{})
		fmt.Fprintf(w, "%-30s : (%.4g, %.4g, %.4g)\n", site.Label(), pos[0], pos[1], pos[2])
	}

	if normalized == "" {
		return nil
	}
	p := m.Project()
	if normalized == "-" {
		return model.Encode(w, &p)
	}
	return model.Save(normalized, &p)
}

func init() {
	validateCmd.Flags().StringVar(&validatePath, "model", "", "Path to the model YAML")
	validateCmd.Flags().StringVar(&normalizePath, "normalize", "", "Write the completed model to this file (- for stdout)")
}
