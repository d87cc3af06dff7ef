// Package shard splits weight matrices across tensor-parallel ranks.
//
// Column-parallel projections (query/key/value and MLP gate/up) are cut along
// their output rows, so each rank produces a slice of the activation with no
// communication. Row-parallel projections (attention output and MLP down) are
// cut along their input columns; each rank then holds a partial product that
// the runtime sums across ranks before adding the replicated bias.
package shard

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Role is the tensor-parallel class of a weight, derived from its name.
type Role uint8

const (
	Unclassified Role = iota
	QKV
	AttnOut
	GateUp
	Down
)

func (r Role) String() string {
	switch r {
	case QKV:
		return "qkv"
	case AttnOut:
		return "attn_out"
	case GateUp:
		return "gate_up"
	case Down:
		return "down"
	default:
		return "unclassified"
	}
}

// Axis is the dimension a role is sharded along.
func (r Role) Axis() int {
	switch r {
	case QKV, GateUp:
		return 0
	case AttnOut, Down:
		return 1
	default:
		return -1
	}
}

var roleKeywords = []struct {
	role     Role
	keywords []string
}{
	{QKV, []string{"q_proj", "k_proj", "v_proj", "qkv_proj", "query", "key", "value", "wq", "wk", "wv"}},
	{AttnOut, []string{"o_proj", "out_proj", "wo", "dense"}},
	{GateUp, []string{"gate_proj", "up_proj", "w1", "w3", "fc1", "gate"}},
	{Down, []string{"down_proj", "w2", "fc2"}},
}

// Classify returns the role of a leaf module. Keywords are matched against
// whole dot-separated path segments, so "word_embeddings" is never mistaken
// for an output projection.
func Classify(name string) Role {
	segments := strings.Split(strings.ToLower(name), ".")
	for _, rk := range roleKeywords {
		for _, seg := range segments {
			for _, kw := range rk.keywords {
				if seg == kw {
					return rk.role
				}
			}
		}
	}
	return Unclassified
}

// Reasons a tensor stays replicated.
const (
	ReasonUnclassified = "unclassified"
	ReasonOneDim       = "one-dimensional"
	ReasonIndivisible  = "indivisible"
	ReasonSingleRank   = "single rank"
)

// ErrIndivisible is returned when a sharded dimension does not split evenly.
var ErrIndivisible = errors.New("dimension not divisible by world size")

// Plan is the placement of one weight on one rank.
type Plan struct {
	Name  string
	Role  Role
	Shape []int

	// Axis, Start and End describe the slice held by the rank when the
	// tensor is sharded.
	Axis  int
	Start int
	End   int

	Replicated bool
	Reason     string
}

func (p Plan) Sharded() bool { return !p.Replicated }

func (p Plan) String() string {
	if p.Replicated {
		return fmt.Sprintf("%s %v replicated (%s)", p.Name, p.Shape, p.Reason)
	}
	return fmt.Sprintf("%s %v axis %d [%d,%d)", p.Name, p.Shape, p.Axis, p.Start, p.End)
}

// PlanFor decides how rank holds the weight called name with the given shape.
func PlanFor(name string, shape []int, rank, worldSize int) Plan {
	p := Plan{Name: name, Role: Classify(name), Shape: shape, Axis: -1, Replicated: true}
	switch {
	case worldSize <= 1:
		p.Reason = ReasonSingleRank
		return p
	case p.Role == Unclassified:
		p.Reason = ReasonUnclassified
		return p
	case len(shape) < 2:
		p.Reason = ReasonOneDim
		return p
	}

	axis := p.Role.Axis()
	start, end, err := Range(shape[axis], rank, worldSize)
	if err != nil {
		p.Reason = ReasonIndivisible
		return p
	}
	p.Axis, p.Start, p.End = axis, start, end
	p.Replicated = false
	p.Reason = ""
	return p
}

// Range returns the half-open slice [rank*size/ws, (rank+1)*size/ws).
func Range(size, rank, worldSize int) (int, int, error) {
	if worldSize < 1 {
		return 0, 0, errors.Errorf("invalid world size %d", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return 0, 0, errors.Errorf("rank %d outside world of %d", rank, worldSize)
	}
	if size%worldSize != 0 {
		return 0, 0, errors.Wrapf(ErrIndivisible, "size %d over %d ranks", size, worldSize)
	}
	chunk := size / worldSize
	return rank * chunk, (rank + 1) * chunk, nil
}
