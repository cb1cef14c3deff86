package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/orchestrator"
	"github.com/AaronLay10/propmodel/internal/session"
)

func runPlan(cmd *cobra.Command, args []string) error {
	def, err := loadModel()
	if err != nil {
		return err
	}
	values, err := parseSets(setFlags)
	if err != nil {
		return err
	}

	sess, err := session.New(def)
	if err != nil {
		return err
	}
	if len(values) > 0 {
		if err := sess.SetMany(values, "cli"); err != nil {
			return err
		}
	} else if sess.Plan().Solver == "" {
		return orchestrator.ErrUnplannable
	}

	printPlan(cmd.OutOrStdout(), def, sess.Snapshot())
	return nil
}

// parseSets turns NAME=VALUE flags into a write batch.
func parseSets(flags []string) (map[string]float64, error) {
	values := make(map[string]float64, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: want NAME=VALUE", f)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", f, err)
		}
		values[name] = v
	}
	return values, nil
}

func printPlan(out io.Writer, def *definition.Definition, snap session.Snapshot) {
	plan := snap.Plan
	fmt.Fprintf(out, "model %s, plan #%d by %s, %d/%d constraints fulfilled\n",
		snap.Model, plan.Clock, plan.Solver, plan.Fulfilled, len(snap.Constraints))

	for _, step := range plan.Steps {
		if step.Stay != "" {
			fmt.Fprintf(out, "  stay %s\n", step.Stay)
			continue
		}
		fmt.Fprintf(out, "  %s[%d]: %s\n", step.Constraint, step.Method, describeMethod(def, step.Constraint, step.Method))
	}

	parts := make([]string, len(snap.Properties))
	for i, p := range snap.Properties {
		parts[i] = p.Name + "=" + formatFloat(p.Value)
	}
	fmt.Fprintf(out, "values: %s\n", strings.Join(parts, " "))
}

func describeMethod(def *definition.Definition, constraint string, index int) string {
	for _, c := range def.Constraints {
		if c.Name != constraint || index < 0 || index >= len(c.Methods) {
			continue
		}
		m := c.Methods[index]
		if len(m.Out) == 0 {
			return "(no outputs)"
		}
		assigns := make([]string, len(m.Out))
		for i, out := range m.Out {
			assigns[i] = out + " = " + m.Set[out]
		}
		return strings.Join(assigns, "; ")
	}
	return "?"
}

func runValidate(cmd *cobra.Command, args []string) error {
	def, err := definition.Load(modelPath)
	if err != nil {
		return err
	}
	inst, err := definition.Bind(def)
	if err != nil {
		return err
	}
	if err := inst.Model().Refresh(); err != nil {
		return fmt.Errorf("%s: %w", modelPath, err)
	}

	cycle := inst.Model().LastCycle()
	fmt.Fprintf(cmd.OutOrStdout(), "ok: model %s: %d properties, %d constraints, planned by %s\n",
		def.Model.Name, len(def.Properties), len(def.Constraints), cycle.Solver)
	return nil
}
