package permissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
)

const (
	fileVersion      = "1.0"
	txBuilderVersion = "1.16.5"
)

// ChainID accepts both the string and the numeric JSON form.
type ChainID string

func (c *ChainID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*c = ChainID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*c = ChainID(n.String())
	return nil
}

// Batch is the permission service response.
type Batch struct {
	Version      string                  `json:"version"`
	ChainID      ChainID                 `json:"chainId" validate:"required,numeric"`
	CreatedAt    int64                   `json:"createdAt"`
	Meta         map[string]any          `json:"meta,omitempty"`
	Transactions []execution.Transaction `json:"transactions" validate:"required,min=1,dive"`
}

// Meta is the Safe Transaction Builder file metadata.
type Meta struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	TxBuilderVersion       string   `json:"txBuilderVersion"`
	CreatedFromSafeAddress string   `json:"createdFromSafeAddress,omitempty"`
	Protocols              []string `json:"protocols"`
	TransactionCount       int      `json:"transactionCount"`
}

// File is a Safe Transaction Builder batch file.
type File struct {
	Version      string                  `json:"version"`
	ChainID      string                  `json:"chainId"`
	CreatedAt    int64                   `json:"createdAt"`
	Meta         Meta                    `json:"meta"`
	Transactions []execution.Transaction `json:"transactions"`
}

// Source identifies what a batch was granted for.
type Source struct {
	Protocol  string
	Action    string
	Operation string
	Avatar    string
}

// ToFile reshapes a service batch into an importable file.
func ToFile(b Batch, src Source, now time.Time) File {
	createdAt := b.CreatedAt
	if createdAt == 0 {
		createdAt = now.UnixMilli()
	}
	version := b.Version
	if version == "" {
		version = fileVersion
	}
	txs := append([]execution.Transaction(nil), b.Transactions...)
	return File{
		Version:   version,
		ChainID:   string(b.ChainID),
		CreatedAt: createdAt,
		Meta: Meta{
			Name:                   fmt.Sprintf("%s %s %s", src.Operation, src.Protocol, src.Action),
			Description:            describe(len(txs), []string{src.Protocol}),
			TxBuilderVersion:       txBuilderVersion,
			CreatedFromSafeAddress: src.Avatar,
			Protocols:              []string{src.Protocol},
			TransactionCount:       len(txs),
		},
		Transactions: txs,
	}
}

// Aggregate concatenates the transaction lists of files for one chain.
// Transactions are kept as returned, duplicates included.
func Aggregate(files []File) (File, error) {
	if len(files) == 0 {
		return File{}, clierr.New(clierr.CodeUsage, "nothing to aggregate")
	}
	out := File{
		Version: fileVersion,
		ChainID: files[0].ChainID,
		Meta: Meta{
			TxBuilderVersion:       txBuilderVersion,
			CreatedFromSafeAddress: files[0].Meta.CreatedFromSafeAddress,
			Protocols:              []string{},
		},
		Transactions: []execution.Transaction{},
	}
	seen := map[string]bool{}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.ChainID != out.ChainID {
			return File{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("cannot combine batches for chains %s and %s", out.ChainID, f.ChainID))
		}
		if f.CreatedAt > out.CreatedAt {
			out.CreatedAt = f.CreatedAt
		}
		for _, p := range f.Meta.Protocols {
			if !seen[p] {
				seen[p] = true
				out.Meta.Protocols = append(out.Meta.Protocols, p)
			}
		}
		names = append(names, f.Meta.Name)
		out.Transactions = append(out.Transactions, f.Transactions...)
	}
	out.Meta.TransactionCount = len(out.Transactions)
	out.Meta.Name = strings.Join(names, " + ")
	out.Meta.Description = describe(out.Meta.TransactionCount, out.Meta.Protocols)
	return out, nil
}

func describe(txs int, protocols []string) string {
	noun := "transactions"
	if txs == 1 {
		noun = "transaction"
	}
	return strconv.Itoa(txs) + " " + noun + " across " + strconv.Itoa(len(protocols)) + " protocol(s): " + strings.Join(protocols, ", ")
}
