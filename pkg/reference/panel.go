// Package reference models the fixed, ordered gene panel a downstream mapping
// model expects as its feature space.
package reference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Namespace names one of the two identifier schemes a panel carries.
type Namespace int

const (
	// GeneID is the stable database identifier (e.g. ENSG00000141510).
	GeneID Namespace = iota
	// GeneSymbol is the human-readable symbol (e.g. TP53).
	GeneSymbol
)

// Namespaces lists every namespace in tie-break priority order.
var Namespaces = []Namespace{GeneID, GeneSymbol}

func (n Namespace) String() string {
	switch n {
	case GeneID:
		return "gene_id"
	case GeneSymbol:
		return "gene_symbol"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

// ParseNamespace accepts "gene_id" or "gene_symbol" (case-insensitive).
func ParseNamespace(s string) (Namespace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gene_id":
		return GeneID, nil
	case "gene_symbol":
		return GeneSymbol, nil
	default:
		return 0, fmt.Errorf("unknown gene namespace %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n Namespace) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Namespace) UnmarshalText(b []byte) error {
	parsed, err := ParseNamespace(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Gene is one panel row.
type Gene struct {
	ID     string `json:"gene_id"`
	Symbol string `json:"gene_symbol"`
}

// Panel is an immutable, ordered reference gene table. Both identifier columns
// are unique. A *Panel is safe for concurrent use.
type Panel struct {
	name  string
	genes []Gene
	sets  [2]map[string]struct{}
}

// NewPanel validates genes and builds a panel. It fails on an empty list,
// empty identifiers and any duplicate id or symbol.
func NewPanel(name string, genes []Gene) (*Panel, error) {
	if len(genes) == 0 {
		return nil, fmt.Errorf("reference panel %q has no genes", name)
	}
	p := &Panel{name: name, genes: append([]Gene(nil), genes...)}
	p.sets[GeneID] = make(map[string]struct{}, len(genes))
	p.sets[GeneSymbol] = make(map[string]struct{}, len(genes))
	for i, g := range genes {
		if g.ID == "" || g.Symbol == "" {
			return nil, fmt.Errorf("reference panel %q row %d has an empty identifier", name, i)
		}
		if _, dup := p.sets[GeneID][g.ID]; dup {
			return nil, fmt.Errorf("reference panel %q has duplicate gene_id %q", name, g.ID)
		}
		if _, dup := p.sets[GeneSymbol][g.Symbol]; dup {
			return nil, fmt.Errorf("reference panel %q has duplicate gene_symbol %q", name, g.Symbol)
		}
		p.sets[GeneID][g.ID] = struct{}{}
		p.sets[GeneSymbol][g.Symbol] = struct{}{}
	}
	return p, nil
}

// Name returns the panel name.
func (p *Panel) Name() string { return p.name }

// Len returns K, the number of reference genes.
func (p *Panel) Len() int { return len(p.genes) }

// Genes returns a copy of the rows in panel order.
func (p *Panel) Genes() []Gene { return append([]Gene(nil), p.genes...) }

// Values returns the identifiers of ns in panel order.
func (p *Panel) Values(ns Namespace) []string {
	out := make([]string, len(p.genes))
	for i, g := range p.genes {
		if ns == GeneSymbol {
			out[i] = g.Symbol
		} else {
			out[i] = g.ID
		}
	}
	return out
}

// Contains reports whether id is a panel identifier in ns.
func (p *Panel) Contains(ns Namespace, id string) bool {
	_, ok := p.set(ns)[id]
	return ok
}

// Set returns the membership set for ns. The map is shared and must be
// treated as read-only.
func (p *Panel) Set(ns Namespace) map[string]struct{} { return p.set(ns) }

func (p *Panel) set(ns Namespace) map[string]struct{} {
	if ns == GeneSymbol {
		return p.sets[GeneSymbol]
	}
	return p.sets[GeneID]
}

// Checksum is a sha256 over the ordered (id, symbol) pairs. Two panels with
// the same genes in a different order have different checksums.
func (p *Panel) Checksum() string {
	h := sha256.New()
	for _, g := range p.genes {
		h.Write([]byte(g.ID))
		h.Write([]byte{0})
		h.Write([]byte(g.Symbol))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
