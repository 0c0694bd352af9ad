package starter

import (
	"fmt"
	"sort"
)

// DefaultVariant is the variant used when none is configured.
const DefaultVariant = "nftstorage"

// Variant is a named pair of metadata URIs. Variants are the only thing that
// differs between deployments of the same collection.
type Variant struct {
	Name        string `mapstructure:"-" yaml:"-"`
	BaseURI     string `mapstructure:"base_uri" yaml:"base_uri"`
	ContractURI string `mapstructure:"contract_uri" yaml:"contract_uri"`
}

var builtinVariants = map[string]Variant{
	DefaultVariant: {
		Name:        DefaultVariant,
		BaseURI:     "https://bafkreicxq6qhnjuprktza3wkamb2usj23u3qwoxinad7ksr3kwebczfhiy.ipfs.nftstorage.link/",
		ContractURI: "https://bafkreiahdril4un5iyp3jsme5w7huhhsfckudozfeou3m7sltkv6cgo7w4.ipfs.nftstorage.link/",
	},
}

// Variants merges the built-in variants with configured ones. Configured
// entries win on name clashes.
func Variants(configured map[string]Variant) map[string]Variant {
	out := make(map[string]Variant, len(builtinVariants)+len(configured))
	for name, v := range builtinVariants {
		out[name] = v
	}
	for name, v := range configured {
		v.Name = name
		out[name] = v
	}
	return out
}

// LookupVariant returns the named variant from the merged set.
func LookupVariant(name string, configured map[string]Variant) (Variant, error) {
	all := Variants(configured)
	v, ok := all[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown variant %q (known: %v)", name, VariantNames(all))
	}
	if v.BaseURI == "" || v.ContractURI == "" {
		return Variant{}, fmt.Errorf("variant %q must set both base_uri and contract_uri", name)
	}
	return v, nil
}

// VariantNames returns the sorted names of the given variants.
func VariantNames(vs map[string]Variant) []string {
	names := make([]string, 0, len(vs))
	for name := range vs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithOverrides returns v with any non-empty URI replaced.
func (v Variant) WithOverrides(baseURI, contractURI string) Variant {
	if baseURI != "" {
		v.BaseURI = baseURI
	}
	if contractURI != "" {
		v.ContractURI = contractURI
	}
	return v
}
