// Package benchmark serves the static sector conversion-rate dataset used to
// compare projected probabilities against peers.
package benchmark

import (
	_ "embed"
	"math"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// AllSegments marks a row that applies to every segment.
const AllSegments = "all"

//go:embed benchmarks.yaml
var defaultDataset []byte

// Provider looks up expected conversion rates.
type Provider interface {
	Rate(stage model.Stage, segment string) (float64, error)
}

// Dataset is a versioned set of benchmark rows. It is never mutated after
// loading and is safe for concurrent use.
type Dataset struct {
	Version string                  `yaml:"version" json:"version"`
	Source  string                  `yaml:"source" json:"source,omitempty"`
	Shifts  map[string]float64      `yaml:"shifts" json:"shifts,omitempty"`
	Rows    []model.SectorBenchmark `yaml:"rows" json:"rows"`

	index map[rowKey]float64
}

type rowKey struct {
	stage   model.Stage
	segment string
}

// Default returns the embedded dataset.
func Default() (*Dataset, error) {
	return Parse(defaultDataset)
}

// Load reads a dataset from path, or returns the embedded dataset when path
// is empty.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: read %s", path)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: load %s", path)
	}
	return ds, nil
}

// Parse decodes and validates a YAML dataset.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, eris.Wrap(err, "benchmark: parse dataset")
	}
	if ds.Version == "" {
		return nil, eris.New("benchmark: dataset has no version")
	}

	ds.index = make(map[rowKey]float64, len(ds.Rows))
	for i, r := range ds.Rows {
		if !r.Stage.Known() {
			return nil, eris.Errorf("benchmark: row %d: unknown stage %q", i, r.Stage)
		}
		if r.ExpectedRate < 0 || r.ExpectedRate > 1 {
			return nil, eris.Errorf("benchmark: row %d: expected_rate %.3f out of range", i, r.ExpectedRate)
		}
		seg := r.Segment
		if seg == "" {
			seg = AllSegments
		}
		k := rowKey{r.Stage, seg}
		if _, dup := ds.index[k]; dup {
			return nil, eris.Errorf("benchmark: duplicate row for %s/%s", r.Stage, seg)
		}
		ds.index[k] = r.ExpectedRate
	}
	return &ds, nil
}

// Rate returns the expected conversion rate for stage within segment. A
// segment-specific row wins; otherwise the all-segments row is shifted by the
// segment's flat adjustment. Missing stages return a NotFound error.
func (d *Dataset) Rate(stage model.Stage, segment string) (float64, error) {
	if segment != "" {
		if r, ok := d.index[rowKey{stage, segment}]; ok {
			return r, nil
		}
	}
	r, ok := d.index[rowKey{stage, AllSegments}]
	if !ok {
		return 0, model.NotFoundf("benchmark: no rate for stage %q", stage)
	}
	r += d.Shifts[segment]
	return math.Min(1, math.Max(0, r)), nil
}

// Entries returns every row sorted by progression order then segment.
func (d *Dataset) Entries() []model.SectorBenchmark {
	out := make([]model.SectorBenchmark, len(d.Rows))
	copy(out, d.Rows)
	sort.SliceStable(out, func(i, j int) bool {
		ii, _ := model.StageIndex(out[i].Stage)
		jj, _ := model.StageIndex(out[j].Stage)
		if ii != jj {
			return ii < jj
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}
