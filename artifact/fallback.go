package artifact

import (
	"errors"
	"io/fs"
)

// UpgradesCoreDir is where @openzeppelin/upgrades-core keeps the proxy
// artifacts that hardhat-upgrades deploys.
const UpgradesCoreDir = "node_modules/@openzeppelin/upgrades-core/artifacts"

// Resolver looks up a contract factory by name.
type Resolver interface {
	Resolve(name string) (*Factory, error)
}

// Fallback resolves a name from each resolver in turn. It moves on only when
// a resolver has no such artifact or no directory at all; the first error is
// returned when none has it.
type Fallback []Resolver

func (fb Fallback) Resolve(name string) (*Factory, error) {
	var first error
	for _, r := range fb {
		f, err := r.Resolve(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		first = ErrNotFound
	}
	return nil, first
}
