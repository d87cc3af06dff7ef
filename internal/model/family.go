package model

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// LayerNames are the leaf module names of one block.
type LayerNames struct {
	AttnNorm string
	Q, K, V  string
	O        string
	MLPNorm  string
	Gate, Up string
	Down     string
}

func (n LayerNames) all() []string {
	return []string{n.AttnNorm, n.Q, n.K, n.V, n.O, n.MLPNorm, n.Gate, n.Up, n.Down}
}

// Family maps one checkpoint naming scheme onto the reference block.
type Family struct {
	Name       string
	ModelTypes []string

	Embed string
	Norm  string
	Head  string
	Layer func(i int) LayerNames
}

var (
	familiesMu sync.RWMutex
	families   []*Family
)

// Register adds a family. Later registrations never shadow earlier ones.
func Register(f *Family) error {
	if f == nil || f.Name == "" || f.Layer == nil {
		return fmt.Errorf("family needs a name and a layer naming function")
	}
	familiesMu.Lock()
	defer familiesMu.Unlock()
	for _, existing := range families {
		if existing.Name == f.Name {
			return fmt.Errorf("family %q already registered", f.Name)
		}
	}
	families = append(families, f)
	return nil
}

// LookupFamily selects the family for a model type. An exact match on a
// registered model type wins; otherwise the first family whose type appears
// within modelType or one of the architectures is used.
func LookupFamily(modelType string, architectures ...string) (*Family, error) {
	familiesMu.RLock()
	defer familiesMu.RUnlock()

	mt := strings.ToLower(strings.TrimSpace(modelType))
	for _, f := range families {
		for _, t := range f.ModelTypes {
			if mt == t {
				return f, nil
			}
		}
	}

	candidates := []string{mt}
	for _, a := range architectures {
		candidates = append(candidates, strings.ToLower(a))
	}
	for _, f := range families {
		for _, t := range f.ModelTypes {
			for _, c := range candidates {
				if c != "" && strings.Contains(c, t) {
					return f, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("unsupported model_type %q (architectures=%v)", modelType, architectures)
}

// FamilyNames lists registered families in registration order.
func FamilyNames() []string {
	familiesMu.RLock()
	defer familiesMu.RUnlock()
	out := make([]string, len(families))
	for i, f := range families {
		out[i] = f.Name
	}
	return out
}

func denseFamily() *Family {
	return &Family{
		Name:       "dense",
		ModelTypes: []string{"lattice", "llama", "mistral", "qwen2", "qwen3", "granite"},
		Embed:      "model.embed_tokens",
		Norm:       "model.norm",
		Head:       "lm_head",
		Layer: func(i int) LayerNames {
			p := "model.layers." + strconv.Itoa(i) + "."
			return LayerNames{
				AttnNorm: p + "input_layernorm",
				Q:        p + "self_attn.q_proj",
				K:        p + "self_attn.k_proj",
				V:        p + "self_attn.v_proj",
				O:        p + "self_attn.o_proj",
				MLPNorm:  p + "post_attention_layernorm",
				Gate:     p + "mlp.gate_proj",
				Up:       p + "mlp.up_proj",
				Down:     p + "mlp.down_proj",
			}
		},
	}
}

// metaFamily follows the consolidated Meta checkpoint layout (wq, wk, w1, ...).
func metaFamily() *Family {
	return &Family{
		Name:       "meta",
		ModelTypes: []string{"meta_llama"},
		Embed:      "tok_embeddings",
		Norm:       "norm",
		Head:       "output",
		Layer: func(i int) LayerNames {
			p := "layers." + strconv.Itoa(i) + "."
			return LayerNames{
				AttnNorm: p + "attention_norm",
				Q:        p + "attention.wq",
				K:        p + "attention.wk",
				V:        p + "attention.wv",
				O:        p + "attention.wo",
				MLPNorm:  p + "ffn_norm",
				Gate:     p + "feed_forward.w1",
				Up:       p + "feed_forward.w3",
				Down:     p + "feed_forward.w2",
			}
		},
	}
}

func init() {
	for _, f := range []*Family{metaFamily(), denseFamily()} {
		if err := Register(f); err != nil {
			panic(err)
		}
	}
}
