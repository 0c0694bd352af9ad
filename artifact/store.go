// Package artifact resolves compiled contracts by name from a Hardhat (or
// Foundry) artifacts directory and encodes calls against their ABI.
package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("artifact not found")
	ErrAmbiguous = errors.New("artifact name is ambiguous")
	ErrUnlinked  = errors.New("bytecode has unlinked libraries")
	ErrAbstract  = errors.New("contract has no bytecode")
)

// Store indexes an artifacts directory. The index is built on first use.
type Store struct {
	dir    string
	logger *zap.Logger

	once     sync.Once
	indexErr error
	byName   map[string][]string // contract name -> fully qualified names
	byFQN    map[string]string   // fully qualified name -> file path
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Resolve loads the artifact for a bare contract name ("Token") or a fully
// qualified one ("contracts/Token.sol:Token").
func (s *Store) Resolve(name string) (*Factory, error) {
	s.once.Do(s.buildIndex)
	if s.indexErr != nil {
		return nil, s.indexErr
	}

	fqn, err := s.qualify(name)
	if err != nil {
		return nil, err
	}

	f, err := loadFactory(s.byFQN[fqn])
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", fqn, err)
	}

	s.logger.Debug("Resolved contract artifact",
		zap.String("contract", fqn),
		zap.Int("bytecode_len", len(f.Bytecode)))

	return f, nil
}

// Names returns all fully qualified names in the store.
func (s *Store) Names() ([]string, error) {
	s.once.Do(s.buildIndex)
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	names := make([]string, 0, len(s.byFQN))
	for fqn := range s.byFQN {
		names = append(names, fqn)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) qualify(name string) (string, error) {
	if strings.Contains(name, ":") {
		if _, ok := s.byFQN[name]; !ok {
			return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.dir)
		}
		return name, nil
	}

	candidates := s.byName[name]
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.dir)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %s; use a fully qualified name",
			ErrAmbiguous, name, strings.Join(candidates, ", "))
	}
}

func (s *Store) buildIndex() {
	s.byName = make(map[string][]string)
	s.byFQN = make(map[string]string)

	info, err := os.Stat(s.dir)
	if err != nil {
		s.indexErr = fmt.Errorf("artifacts directory: %w", err)
		return
	}
	if !info.IsDir() {
		s.indexErr = fmt.Errorf("artifacts directory %s is not a directory", s.dir)
		return
	}

	s.indexErr = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if filepath.Ext(base) != ".json" || strings.HasSuffix(base, ".dbg.json") {
			return nil
		}

		rel, err := filepath.Rel(s.dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		source := filepath.ToSlash(rel)
		if !strings.HasSuffix(source, ".sol") {
			return nil
		}
		contract := strings.TrimSuffix(base, ".json")
		fqn := source + ":" + contract

		s.byFQN[fqn] = path
		s.byName[contract] = append(s.byName[contract], fqn)
		return nil
	})

	for _, fqns := range s.byName {
		sort.Strings(fqns)
	}
}

type rawArtifact struct {
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       bytecodeField   `json:"bytecode"`
	LinkReferences json.RawMessage `json:"linkReferences"`
}

// bytecodeField accepts both the Hardhat form ("0x...") and the Foundry
// form ({"object": "0x..."}).
type bytecodeField struct {
	Object string `json:"object"`
}

func (b *bytecodeField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.Object = s
		return nil
	}
	type plain bytecodeField
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = bytecodeField(p)
	return nil
}

func loadFactory(path string) (*Factory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseArtifact(data, path)
}

// ParseArtifact decodes a single artifact document. fallbackName is used for
// the contract name when the document carries none.
func ParseArtifact(data []byte, fallbackName string) (*Factory, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	code := strings.TrimPrefix(raw.Bytecode.Object, "0x")
	if strings.Contains(code, "__") || hasLinkReferences(raw.LinkReferences) {
		return nil, ErrUnlinked
	}
	bytecode, err := hex.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(fallbackName), ".json")
	}

	return &Factory{
		Name:       name,
		SourceName: raw.SourceName,
		ABI:        parsedABI,
		Bytecode:   bytecode,
	}, nil
}

func hasLinkReferences(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var refs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &refs); err != nil {
		return false
	}
	return len(refs) > 0
}
