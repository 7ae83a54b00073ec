package app

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-compiler/internal/compiler"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/out"
	"github.com/ggonzalez94/defi-compiler/internal/permissions"
)

func (s *runtimeState) newPermissionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "permissions", Short: "Permission grants from the policy service"}

	var in requestInput
	var summary bool
	var writePath string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Request permission batches and reshape them into a Safe Transaction Builder file",
		Long:  "Request permission batches. Several requests (an --input array) are fetched concurrently and combined into one file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := in.requests(cmd.InOrStdin())
			if err != nil {
				return err
			}
			var file permissions.File
			var warnings []string
			if len(reqs) == 1 {
				res, gerr := s.svc.Grant(cmd.Context(), reqs[0])
				warnings = warningsOf(res.Prepared)
				file, err = res.File, gerr
				if gerr != nil && len(res.Validation.Errors) > 0 {
					s.lastDetails = res.Prepared
				}
			} else {
				file, err = s.svc.GrantMany(cmd.Context(), reqs)
			}
			if err != nil {
				s.lastWarnings = warnings
				return err
			}
			return s.emitFile(cmd, file, warnings, summary, writePath)
		},
	}
	in.bind(grant.Flags())
	grant.Flags().BoolVar(&summary, "summary", false, "Print a human summary with the embedded batch")
	grant.Flags().StringVar(&writePath, "write", "", "Also write the batch file to this path")

	var batchSummary bool
	var batchWrite string
	batch := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Combine Safe Transaction Builder files for one chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]permissions.File, 0, len(args))
			for _, path := range args {
				raw, err := readInput(path, cmd.InOrStdin())
				if err != nil {
					return err
				}
				var f permissions.File
				if err := json.Unmarshal(raw, &f); err != nil {
					return clierr.Wrap(clierr.CodeUsage, "parse batch file "+path, err)
				}
				files = append(files, f)
			}
			combined, err := permissions.Aggregate(files)
			if err != nil {
				return err
			}
			return s.emitFile(cmd, combined, nil, batchSummary, batchWrite)
		},
	}
	batch.Flags().BoolVar(&batchSummary, "summary", false, "Print a human summary with the embedded batch")
	batch.Flags().StringVar(&batchWrite, "write", "", "Also write the combined file to this path")

	root.AddCommand(grant)
	root.AddCommand(batch)
	return root
}

func (s *runtimeState) emitFile(cmd *cobra.Command, file permissions.File, warnings []string, summary bool, writePath string) error {
	if writePath != "" {
		raw, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "encode batch file", err)
		}
		if err := os.WriteFile(writePath, append(raw, '\n'), 0o644); err != nil {
			return clierr.Wrap(clierr.CodeUsage, "write batch file", err)
		}
		s.logger.Info("batch file written", "path", writePath, "transactions", file.Meta.TransactionCount)
	}
	if summary {
		return s.emitSuccess(trimRootPath(cmd.CommandPath()), out.Text(compiler.Summarize(file, nil).String()), warnings)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), file, warnings)
}
