package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/propmodel/internal/definition"
)

func runRun(cmd *cobra.Command, args []string) error {
	def, err := loadModel()
	if err != nil {
		return err
	}
	inst, err := definition.Bind(def)
	if err != nil {
		return err
	}
	return runLoop(inst, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runLoop applies whitespace separated NAME VALUE pairs from in, printing
// every property after each completed update. Input ends at EOF or at the
// first value that is not a number. The constraint importances are printed
// last.
func runLoop(inst *definition.Instance, in io.Reader, out, errOut io.Writer) error {
	names := inst.Names()
	model := inst.Model()

	n := 0
	model.RegisterCallback(func() {
		fmt.Fprintf(out, "CHANGED %d: %s\n", n, formatValues(inst, names))
		n++
	})
	defer model.UnregisterCallback()

	sc := bufio.NewScanner(in)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		name := sc.Text()
		if !sc.Scan() {
			break
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			fmt.Fprintf(errOut, "%s: not a number: %q\n", name, sc.Text())
			break
		}
		if err := inst.Set(name, v); err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", name, err)
		}
		for _, evalErr := range inst.TakeEvalErrors() {
			fmt.Fprintln(errOut, evalErr)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	for _, name := range inst.ConstraintNames() {
		c, _ := inst.Constraint(name)
		fmt.Fprintf(out, "%s %d\n", name, c.Importance())
	}
	return nil
}

func formatValues(inst *definition.Instance, names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		v, _ := inst.Value(name)
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
