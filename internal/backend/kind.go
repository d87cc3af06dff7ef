package backend

import (
	"fmt"
	"strings"
)

// Kind selects a backend variant.
type Kind uint8

const (
	Single Kind = iota
	TensorParallel
	PipelineParallel
)

// Kinds lists every variant in declaration order.
func Kinds() []Kind { return []Kind{Single, TensorParallel, PipelineParallel} }

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case TensorParallel:
		return "tensor_parallel"
	case PipelineParallel:
		return "pipeline"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the canonical names and the historical aliases used by
// existing launch scripts.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "single", "mlx":
		return Single, nil
	case "tensor_parallel", "tp", "mlx_distributed":
		return TensorParallel, nil
	case "pipeline", "pp":
		return PipelineParallel, nil
	case "llamacpp":
		return 0, fmt.Errorf("backend %q is not supported by this worker (expected %s)", name, Available())
	default:
		return 0, fmt.Errorf("unknown backend %q (expected %s)", name, Available())
	}
}

// Available returns a comma-separated list of backend names.
func Available() string {
	names := make([]string, 0, 3)
	for _, k := range Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}
