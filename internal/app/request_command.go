package app

import (
	"reflect"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/compiler"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/model"
	"github.com/ggonzalez94/defi-compiler/internal/normalize"
	"github.com/ggonzalez94/defi-compiler/internal/out"
	"github.com/ggonzalez94/defi-compiler/internal/validate"
)

func (s *runtimeState) newRequestCommand() *cobra.Command {
	root := &cobra.Command{Use: "request", Short: "Normalize, validate and build action requests"}

	var normIn requestInput
	var trace bool
	normCmd := &cobra.Command{
		Use:   "normalize",
		Short: "Run the normalization pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := normIn.single(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !trace {
				res := s.svc.Normalize(req)
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, normalizeNotes(res.Warnings))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), traceStages(s.pipeline(), req), nil)
		},
	}
	normIn.bind(normCmd.Flags())
	normCmd.Flags().BoolVar(&trace, "trace", false, "Show the request after every stage")

	var valIn requestInput
	var mode string
	valCmd := &cobra.Command{
		Use:   "validate",
		Short: "Normalize then validate a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := valIn.single(cmd.InOrStdin())
			if err != nil {
				return err
			}
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			prepared, err := s.svc.Prepare(req, m)
			if err != nil {
				s.lastDetails = prepared
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), prepared, warningsOf(prepared))
		},
	}
	valIn.bind(valCmd.Flags())
	valCmd.Flags().StringVar(&mode, "mode", "any", "Identity checks: any, grant or build")

	var buildIn requestInput
	var summary bool
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the execution payload for a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildIn.single(cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := s.svc.Build(req)
			if err != nil {
				s.lastWarnings = warningsOf(res.Prepared)
				return err
			}
			if summary {
				text := compiler.SummarizeBuild(res.Payload, nil).String()
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), out.Text(text), warningsOf(res.Prepared))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, warningsOf(res.Prepared))
		},
	}
	buildIn.bind(buildCmd.Flags())
	buildCmd.Flags().BoolVar(&summary, "summary", false, "Print a human summary with the embedded payload")

	root.AddCommand(normCmd)
	root.AddCommand(valCmd)
	root.AddCommand(buildCmd)
	return root
}

func (s *runtimeState) pipeline() *normalize.Pipeline {
	return normalize.New(s.reg, s.resolver)
}

func traceStages(p *normalize.Pipeline, req action.Request) []model.StageTrace {
	cur := req.Clone()
	stages := p.Stages()
	traces := make([]model.StageTrace, 0, len(stages))
	for _, stage := range stages {
		next, warnings := stage.Apply(cur.Clone())
		traces = append(traces, model.StageTrace{
			Stage:   stage.Name,
			Request: next,
			Changed: !reflect.DeepEqual(cur, next),
			Notes:   normalizeNotes(warnings),
		})
		cur = next
	}
	return traces
}

func parseMode(v string) (validate.Mode, error) {
	switch v {
	case "", "any":
		return validate.ModeAny, nil
	case "grant":
		return validate.ModeGrant, nil
	case "build":
		return validate.ModeBuild, nil
	}
	return "", clierr.New(clierr.CodeUsage, "--mode must be any, grant or build")
}

func normalizeNotes(warnings []normalize.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Stage+": "+w.Message)
	}
	return out
}

func warningsOf(p compiler.Prepared) []string {
	out := normalizeNotes(p.Normalization)
	for _, w := range p.Validation.Warnings {
		out = append(out, w.Message)
	}
	return out
}
