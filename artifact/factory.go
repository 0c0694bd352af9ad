package artifact

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Factory is a deployable contract: its ABI plus creation bytecode.
type Factory struct {
	Name       string
	SourceName string
	ABI        abi.ABI
	Bytecode   []byte
}

// FullyQualifiedName returns "source:Name", or just the name when the source
// is unknown.
func (f *Factory) FullyQualifiedName() string {
	if f.SourceName == "" {
		return f.Name
	}
	return f.SourceName + ":" + f.Name
}

// BytecodeHash identifies an implementation version.
func (f *Factory) BytecodeHash() common.Hash {
	return crypto.Keccak256Hash(f.Bytecode)
}

// DeployData returns creation bytecode followed by the packed constructor
// arguments.
func (f *Factory) DeployData(args ...interface{}) ([]byte, error) {
	if len(f.Bytecode) == 0 {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrAbstract)
	}

	packed, err := packArguments(f.ABI.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s constructor: %w", f.Name, err)
	}

	data := make([]byte, 0, len(f.Bytecode)+len(packed))
	data = append(data, f.Bytecode...)
	return append(data, packed...), nil
}

// ConstructorInputs returns the constructor parameter list.
func (f *Factory) ConstructorInputs() abi.Arguments {
	return f.ABI.Constructor.Inputs
}

// Method looks up a method by name ("initialize") or by signature
// ("initialize(string,uint256)").
func (f *Factory) Method(name string) (abi.Method, bool) {
	if m, ok := f.ABI.Methods[name]; ok {
		return m, true
	}
	if strings.Contains(name, "(") {
		for _, m := range f.ABI.Methods {
			if m.Sig == name {
				return m, true
			}
		}
	}
	return abi.Method{}, false
}

// EncodeCall returns calldata for method with args coerced to the ABI types.
func (f *Factory) EncodeCall(method string, args ...interface{}) ([]byte, error) {
	m, ok := f.Method(method)
	if !ok {
		return nil, fmt.Errorf("%s has no method %q", f.Name, method)
	}

	packed, err := packArguments(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s.%s: %w", f.Name, m.Name, err)
	}

	data := make([]byte, 0, len(m.ID)+len(packed))
	data = append(data, m.ID...)
	return append(data, packed...), nil
}
