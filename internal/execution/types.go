package execution

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

type Kind string

const (
	KindEIP712 Kind = "eip712"
	KindSafeTx Kind = "safeTx"
)

// Operation is the Safe call type.
type Operation int

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

// Payload is the output of a builder. Exactly one of EIP712 and SafeTx is
// set, matching Kind.
type Payload struct {
	Kind     Kind              `json:"kind"`
	Protocol string            `json:"protocol"`
	Action   string            `json:"action"`
	ChainID  int64             `json:"chainId"`
	Preview  string            `json:"preview"`
	EIP712   *TypedDataRequest `json:"eip712,omitempty"`
	SafeTx   *SafeTx           `json:"safeTx,omitempty"`
}

// TypedDataRequest is an off-chain signing request for Signer.
type TypedDataRequest struct {
	apitypes.TypedData
	Signer   string         `json:"signer"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hash returns the EIP-712 digest the signer will sign.
func (r TypedDataRequest) Hash() (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(r.TypedData)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(digest), nil
}

// SafeTx describes one Safe contract call.
type SafeTx struct {
	To          string            `json:"to"`
	Value       string            `json:"value"`
	Operation   Operation         `json:"operation"`
	Method      ContractMethod    `json:"contractMethod"`
	InputValues map[string]string `json:"contractInputsValues"`
	Data        string            `json:"data"`
}

// Transaction returns the call in Safe Transaction Builder form.
func (tx SafeTx) Transaction() Transaction {
	method := tx.Method
	return Transaction{
		To:                   tx.To,
		Value:                tx.Value,
		Data:                 tx.Data,
		ContractMethod:       &method,
		ContractInputsValues: tx.InputValues,
	}
}

// ContractMethod is the Safe Transaction Builder method descriptor.
type ContractMethod struct {
	Name    string        `json:"name"`
	Payable bool          `json:"payable"`
	Inputs  []MethodInput `json:"inputs"`
}

type MethodInput struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	InternalType string        `json:"internalType,omitempty"`
	Components   []MethodInput `json:"components,omitempty"`
}

// Transaction is one entry of a Safe Transaction Builder batch file.
type Transaction struct {
	To                   string            `json:"to" validate:"required,eth_addr"`
	Value                string            `json:"value" validate:"required,numeric"`
	Data                 string            `json:"data,omitempty"`
	ContractMethod       *ContractMethod   `json:"contractMethod,omitempty"`
	ContractInputsValues map[string]string `json:"contractInputsValues,omitempty"`
}

// MethodFromABI derives the descriptor from a parsed ABI method.
func MethodFromABI(m abi.Method) ContractMethod {
	inputs := make([]MethodInput, 0, len(m.Inputs))
	for _, arg := range m.Inputs {
		inputs = append(inputs, inputFromType(arg.Name, arg.Type))
	}
	return ContractMethod{Name: m.RawName, Payable: m.IsPayable(), Inputs: inputs}
}

func inputFromType(name string, t abi.Type) MethodInput {
	in := MethodInput{Name: name, Type: t.String(), InternalType: t.String()}
	if t.T == abi.TupleTy {
		in.Type = "tuple"
		in.InternalType = "struct"
		for i, elem := range t.TupleElems {
			in.Components = append(in.Components, inputFromType(t.TupleRawNames[i], *elem))
		}
	}
	return in
}
