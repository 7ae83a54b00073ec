package app

import (
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/model"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/schema"
)

func (s *runtimeState) newProtocolsCommand() *cobra.Command {
	root := &cobra.Command{Use: "protocols", Short: "Protocol registry"}

	var action, chain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := s.reg.ListProtocols()
			if action != "" {
				ids = intersect(ids, s.reg.ListProtocolsSupportingAction(action))
			}
			if chain != "" {
				ids = intersect(ids, s.reg.ListProtocolsSupportingChain(chain))
			}
			items := make([]model.ProtocolSummary, 0, len(ids))
			for _, pid := range ids {
				cfg, _ := s.reg.Get(pid)
				items = append(items, summarizeProtocol(cfg))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	list.Flags().StringVar(&action, "action", "", "Only protocols declaring this action or alias")
	list.Flags().StringVar(&chain, "chain", "", "Only protocols deployed on this chain")

	show := &cobra.Command{
		Use:   "show <protocol>",
		Short: "Show one protocol with its markets and builders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ok := s.reg.Get(args[0])
			if !ok {
				return clierr.New(clierr.CodeUnsupported, "unknown protocol "+args[0])
			}
			detail := model.ProtocolDetail{
				ProtocolSummary: summarizeProtocol(cfg),
				Description:     cfg.Description,
				Aliases:         cfg.Aliases,
				Markets:         map[string][]string{},
			}
			for _, c := range cfg.SupportedChains() {
				d, _ := cfg.Deployment(c)
				if names := d.MarketNames(); len(names) > 0 {
					detail.Markets[c] = names
				}
			}
			for _, b := range s.builders.Bindings() {
				if b.Protocol == cfg.ID {
					detail.Builders = append(detail.Builders, model.BuilderBinding{Action: b.Action, Builder: b.Builder.Name()})
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), detail, nil)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func (s *runtimeState) newContractsCommand() *cobra.Command {
	var target, protocol string
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Print the calling contracts advertised to tool-calling clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := schema.Target(target)
			if t != schema.TargetGrant && t != schema.TargetBuild {
				return clierr.New(clierr.CodeUsage, "--target must be grant or build")
			}
			if protocol != "" {
				c, ok := schema.Contract(s.reg, protocol, t)
				if !ok {
					return clierr.New(clierr.CodeUnsupported, "no "+target+" contract for "+protocol)
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), c, nil)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.svc.Contracts(t), nil)
		},
	}
	cmd.Flags().StringVar(&target, "target", string(schema.TargetGrant), "Request path: grant or build")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Single protocol")
	return cmd
}

func summarizeProtocol(cfg registry.ProtocolConfig) model.ProtocolSummary {
	return model.ProtocolSummary{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Actions:     append([]string(nil), cfg.Actions...),
		BuilderOnly: cfg.BuilderOnly,
		Chains:      cfg.SupportedChains(),
	}
}

func intersect(a, b []string) []string {
	keep := make(map[string]bool, len(b))
	for _, v := range b {
		keep[v] = true
	}
	out := []string{}
	for _, v := range a {
		if keep[v] {
			out = append(out, v)
		}
	}
	return out
}
