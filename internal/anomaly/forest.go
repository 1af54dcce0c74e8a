package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Node is a single split in an isolation tree. A node with Left < 0 is a
// leaf; Size is the number of training samples that reached it.
type Node struct {
	Feature int     `json:"feature"`
	Split   float64 `json:"split"`
	Left    int     `json:"left"`
	Right   int     `json:"right"`
	Size    int     `json:"size"`
}

// Tree is one isolation tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is an isolation-forest scorer loaded from a pre-trained JSON
// artifact. Training happens offline; this only runs inference.
type Forest struct {
	Trees     []Tree  `json:"trees"`
	Samples   int     `json:"samples"`
	Threshold float64 `json:"threshold"`
}

// LoadForest reads a model artifact from disk. Callers treat a failure
// here as fatal at startup.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model artifact: %w", err)
	}
	if len(f.Trees) == 0 || f.Samples < 2 {
		return nil, fmt.Errorf("model artifact has no usable trees (trees=%d samples=%d)", len(f.Trees), f.Samples)
	}
	for ti := range f.Trees {
		if err := f.Trees[ti].validate(); err != nil {
			return nil, fmt.Errorf("model artifact tree %d: %w", ti, err)
		}
	}
	if f.Threshold == 0 {
		f.Threshold = 0.6
	}
	return &f, nil
}

// validate rejects trees that would fault or loop during inference. A
// malformed artifact must fail here, at startup, not on the first scored
// flow.
func (t *Tree) validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("has no nodes")
	}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Left < 0 {
			continue // leaf
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature %d out of range [0,%d)", i, n.Feature, numFeatures)
		}
		// Children must point forward in the flat array; this bounds both
		// indices and guarantees every descent terminates.
		if n.Left <= i || n.Left >= len(t.Nodes) {
			return fmt.Errorf("node %d: left child %d out of range", i, n.Left)
		}
		if n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: right child %d out of range", i, n.Right)
		}
	}
	return nil
}

// Score computes the standard isolation-forest anomaly score
// s = 2^(-E(h)/c(n)): close to 1 for isolates, well below 0.5 for normal
// points. The flow is flagged anomalous when the score reaches the
// artifact's threshold.
func (f *Forest) Score(features [4]float64) (float64, bool) {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(features)
	}
	avg := total / float64(len(f.Trees))

	score := math.Pow(2, -avg/averagePathLength(f.Samples))
	return score, score >= f.Threshold
}

func (t *Tree) pathLength(features [4]float64) float64 {
	depth := 0.0
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.Left < 0 {
			// External node: add the expected remaining depth for the
			// samples that terminated here.
			return depth + averagePathLength(n.Size)
		}
		if features[n.Feature] < n.Split {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the average path length of an unsuccessful
// BST search over n samples.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}
