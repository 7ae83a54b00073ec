package tokens

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
)

//go:embed catalogue.yaml
var builtinCatalogue []byte

// TokenInfo describes one ERC-20 on one chain.
type TokenInfo struct {
	ChainID  int64  `json:"chainId" yaml:"chainId" validate:"required,gt=0"`
	Address  string `json:"address" yaml:"address" validate:"required,eth_addr"`
	Symbol   string `json:"symbol" yaml:"symbol" validate:"required"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Decimals int    `json:"decimals" yaml:"decimals" validate:"gte=0,lte=36"`
}

// Catalogue is the on-disk and remote token list format. It accepts YAML and
// token-list style JSON.
type Catalogue struct {
	Tokens []TokenInfo `json:"tokens" yaml:"tokens" validate:"required,min=1,dive"`
}

// LoadCatalogue decodes and validates a catalogue.
func LoadCatalogue(r io.Reader) (Catalogue, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Catalogue{}, clierr.Wrap(clierr.CodeInternal, "read token catalogue", err)
	}
	return ParseCatalogue(raw)
}

func ParseCatalogue(raw []byte) (Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(bytes.TrimSpace(raw), &cat); err != nil {
		return Catalogue{}, clierr.Wrap(clierr.CodeUsage, "parse token catalogue", err)
	}
	if err := cat.Validate(); err != nil {
		return Catalogue{}, err
	}
	return cat, nil
}

// BuiltinCatalogue returns the catalogue compiled into the binary.
func BuiltinCatalogue() Catalogue {
	cat, err := ParseCatalogue(builtinCatalogue)
	if err != nil {
		panic(err)
	}
	return cat
}

func (c Catalogue) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return clierr.Wrap(clierr.CodeUsage, "invalid token catalogue", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return clierr.New(clierr.CodeUsage, "invalid token catalogue: "+strings.Join(msgs, "; "))
	}
	return nil
}
