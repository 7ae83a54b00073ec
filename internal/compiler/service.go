// Package compiler wires normalization, validation, building and permission
// grants into the request paths exposed to callers.
package compiler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	"github.com/ggonzalez94/defi-compiler/internal/builder"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/normalize"
	"github.com/ggonzalez94/defi-compiler/internal/permissions"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/schema"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
	"github.com/ggonzalez94/defi-compiler/internal/validate"
)

// Granter fetches permission batches for normalized requests.
type Granter interface {
	Grant(ctx context.Context, req action.Request) (permissions.File, error)
	GrantAll(ctx context.Context, reqs []action.Request) ([]permissions.File, error)
}

type Service struct {
	reg      *registry.Registry
	pipeline *normalize.Pipeline
	engine   *validate.Engine
	builders *builder.Registry
	grants   Granter
	logger   *slog.Logger
}

// New builds a service. grants may be nil when only the build path is used.
func New(reg *registry.Registry, resolver *tokens.Resolver, builders *builder.Registry, grants Granter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		reg:      reg,
		pipeline: normalize.New(reg, resolver),
		engine:   validate.New(reg),
		builders: builders,
		grants:   grants,
		logger:   logger,
	}
}

// Prepared is a normalized request with its findings.
type Prepared struct {
	Request       action.Request      `json:"request"`
	Normalization []normalize.Warning `json:"normalization,omitempty"`
	Validation    validate.Result     `json:"validation"`
}

// Normalize runs the pipeline only.
func (s *Service) Normalize(req action.Request) normalize.Result {
	return s.pipeline.Normalize(req)
}

// Prepare normalizes then validates req. The returned Prepared is filled
// even when validation fails.
func (s *Service) Prepare(req action.Request, mode validate.Mode) (Prepared, error) {
	norm := s.pipeline.Normalize(req)
	res := s.engine.Check(norm.Request, mode)
	p := Prepared{Request: norm.Request, Normalization: norm.Warnings, Validation: res}
	if err := res.Err(); err != nil {
		s.logger.Debug("request rejected", "protocol", norm.Request.Protocol, "action", norm.Request.Action, "errors", len(res.Errors))
		return p, err
	}
	return p, nil
}

type BuildResult struct {
	Prepared
	Payload execution.Payload `json:"payload"`
}

// Build prepares req for the build path and hands it to its builder.
func (s *Service) Build(req action.Request) (BuildResult, error) {
	p, err := s.Prepare(req, validate.ModeBuild)
	if err != nil {
		return BuildResult{Prepared: p}, err
	}
	if s.builders == nil {
		return BuildResult{Prepared: p}, clierr.New(clierr.CodeInternal, "no builders configured")
	}
	payload, err := s.builders.Build(p.Request)
	if err != nil {
		return BuildResult{Prepared: p}, err
	}
	s.logger.Info("payload built", "protocol", payload.Protocol, "action", payload.Action, "kind", payload.Kind)
	return BuildResult{Prepared: p, Payload: payload}, nil
}

type GrantResult struct {
	Prepared
	File permissions.File `json:"file"`
}

// Grant prepares req for the permission path and fetches its batch.
func (s *Service) Grant(ctx context.Context, req action.Request) (GrantResult, error) {
	p, err := s.Prepare(req, validate.ModeGrant)
	if err != nil {
		return GrantResult{Prepared: p}, err
	}
	if s.grants == nil {
		return GrantResult{Prepared: p}, clierr.New(clierr.CodeUsage, "permission service is not configured")
	}
	file, err := s.grants.Grant(ctx, p.Request)
	if err != nil {
		return GrantResult{Prepared: p}, err
	}
	return GrantResult{Prepared: p, File: file}, nil
}

// GrantMany prepares every request before any remote call, then fetches the
// batches concurrently and aggregates them into one file.
func (s *Service) GrantMany(ctx context.Context, reqs []action.Request) (permissions.File, error) {
	if len(reqs) == 0 {
		return permissions.File{}, clierr.New(clierr.CodeUsage, "no requests given")
	}
	if s.grants == nil {
		return permissions.File{}, clierr.New(clierr.CodeUsage, "permission service is not configured")
	}
	prepared := make([]action.Request, 0, len(reqs))
	for i, req := range reqs {
		p, err := s.Prepare(req, validate.ModeGrant)
		if err != nil {
			return permissions.File{}, withIndex(i, p.Request, err)
		}
		prepared = append(prepared, p.Request)
	}
	files, err := s.grants.GrantAll(ctx, prepared)
	if err != nil {
		return permissions.File{}, err
	}
	out, err := permissions.Aggregate(files)
	if err != nil {
		return permissions.File{}, err
	}
	s.logger.Info("permissions aggregated", "requests", len(reqs), "transactions", out.Meta.TransactionCount, "protocols", len(out.Meta.Protocols))
	return out, nil
}

func withIndex(i int, req action.Request, err error) error {
	cErr, ok := clierr.As(err)
	if !ok {
		return err
	}
	return clierr.New(cErr.Code, fmt.Sprintf("request %d (%s %s): %s", i+1, req.Protocol, req.Action, cErr.Message))
}

// Contracts returns the calling contracts advertised for target.
func (s *Service) Contracts(target schema.Target) []schema.CallingContract {
	return schema.Generate(s.reg, target)
}

// FromArgs turns tool-call arguments for protocol into a request. An explicit
// protocol argument wins.
func FromArgs(protocol string, args map[string]any) action.Request {
	req := action.FromArgs(args)
	if req.Protocol == "" {
		req.Protocol = protocol
	}
	return req
}
