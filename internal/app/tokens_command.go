package app

import (
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/model"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token catalogue lookups"}

	var chainArg string
	resolve := &cobra.Command{
		Use:   "resolve <token>...",
		Short: "Resolve symbols or native aliases to addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			items := make([]model.TokenResolution, 0, len(args))
			var warnings []string
			for _, input := range args {
				res := s.describeToken(input, chain)
				if !res.Resolved {
					warnings = append(warnings, "could not resolve "+input+" on "+chain.Prefix)
				}
				items = append(items, res)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, warnings)
		},
	}
	resolve.Flags().StringVar(&chainArg, "chain", "", "Chain prefix, name or id")
	_ = resolve.MarkFlagRequired("chain")

	var infoChain string
	info := &cobra.Command{
		Use:   "info <symbol-or-address>",
		Short: "Show catalogue metadata for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(infoChain)
			if err != nil {
				return err
			}
			res := s.describeToken(args[0], chain)
			if res.Decimals == nil {
				return clierr.New(clierr.CodeResolution, "token "+args[0]+" is not in the catalogue for "+chain.Prefix)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil)
		},
	}
	info.Flags().StringVar(&infoChain, "chain", "", "Chain prefix, name or id")
	_ = info.MarkFlagRequired("chain")

	var listChain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalogue tokens for a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(listChain)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.resolver.Tokens(chain.Prefix), nil)
		},
	}
	list.Flags().StringVar(&listChain, "chain", "", "Chain prefix, name or id")
	_ = list.MarkFlagRequired("chain")

	root.AddCommand(resolve)
	root.AddCommand(info)
	root.AddCommand(list)
	return root
}

func (s *runtimeState) describeToken(input string, chain id.Chain) model.TokenResolution {
	addr, ok := s.resolver.ResolveAddress(input, chain.Prefix)
	res := model.TokenResolution{
		Input:    input,
		Chain:    chain.Prefix,
		Address:  addr,
		Resolved: ok,
		Native:   tokens.IsNativeAlias(input, chain),
	}
	lookup := input
	if res.Native {
		lookup = tokens.NativeRepresentative(chain)
	}
	if meta, found := s.resolver.GetInfo(lookup, chain.Prefix); found {
		decimals := meta.Decimals
		res.Symbol = meta.Symbol
		res.Decimals = &decimals
		res.AssetID = id.CanonicalAssetID(chain, meta.Address)
	}
	return res
}
