// Package summary collects graph nodes as named metrics and serializes
// their values into summary blobs when fetched.
package summary

import (
	"sync"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
)

// Well-known collections
const (
	CollectionTrain     = "train"
	CollectionGradients = "gradients"
	CollectionValPlots  = "val_plots"
)

// Kind identifies how a metric value is summarized
type Kind string

const (
	KindScalar    Kind = "scalar"
	KindHistogram Kind = "histogram"
	KindImage     Kind = "image"
)

// ErrDuplicateTag is returned when a tag is registered twice in one collection
var ErrDuplicateTag = errors.New("duplicate summary tag")

type metric struct {
	kind Kind
	tag  string
	node *autodiff.Node
}

// MetricRegistry holds metrics grouped by collection name
type MetricRegistry struct {
	mu          sync.Mutex
	collections map[string][]metric
}

// NewMetricRegistry creates an empty registry
func NewMetricRegistry() *MetricRegistry {
	return &MetricRegistry{collections: make(map[string][]metric)}
}

func (r *MetricRegistry) add(collection string, kind Kind, tag string, node *autodiff.Node) error {
	if tag == "" {
		return errors.Errorf("%s summary in %q: tag cannot be empty", kind, collection)
	}
	if node == nil {
		return errors.Errorf("%s summary %q: node cannot be nil", kind, tag)
	}
	if kind == KindScalar && !node.IsScalar() {
		rows, cols := node.Shape()
		return errors.Wrapf(autodiff.ErrNotScalar, "scalar summary %q is %dx%d", tag, rows, cols)
	}
	if kind != KindScalar {
		if rows, cols := node.Shape(); rows == 0 || cols == 0 {
			return errors.Errorf("%s summary %q: node %s has no value", kind, tag, node.Name())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.collections[collection] {
		if m.tag == tag {
			return errors.Wrapf(ErrDuplicateTag, "%q in collection %q", tag, collection)
		}
	}
	r.collections[collection] = append(r.collections[collection], metric{kind: kind, tag: tag, node: node})
	return nil
}

// Scalar registers a 1x1 node
func (r *MetricRegistry) Scalar(collection, tag string, node *autodiff.Node) error {
	return r.add(collection, KindScalar, tag, node)
}

// Histogram registers a node whose elements are summarized as a histogram
func (r *MetricRegistry) Histogram(collection, tag string, node *autodiff.Node) error {
	return r.add(collection, KindHistogram, tag, node)
}

// Image registers a node rendered as a single-channel image
func (r *MetricRegistry) Image(collection, tag string, node *autodiff.Node) error {
	return r.add(collection, KindImage, tag, node)
}

// Tags lists the tags of a collection in registration order
func (r *MetricRegistry) Tags(collection string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.collections[collection]))
	for _, m := range r.collections[collection] {
		tags = append(tags, m.tag)
	}
	return tags
}

// Merge returns a fetchable producing the serialized summary of every metric
// registered in collection at the time of the call. An empty collection
// merges into an empty, but valid, summary.
func (r *MetricRegistry) Merge(collection string) *Merged {
	r.mu.Lock()
	defer r.mu.Unlock()
	metrics := make([]metric, len(r.collections[collection]))
	copy(metrics, r.collections[collection])
	return &Merged{collection: collection, metrics: metrics}
}

// Collection returns a view of the registry scoped to one collection
func (r *MetricRegistry) Collection(name string) *Collection {
	return &Collection{registry: r, name: name}
}

// Collection is a MetricRegistry bound to a collection name
type Collection struct {
	registry *MetricRegistry
	name     string
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// Scalar registers a scalar metric in the collection
func (c *Collection) Scalar(tag string, node *autodiff.Node) error {
	return c.registry.Scalar(c.name, tag, node)
}

// Histogram registers a histogram metric in the collection
func (c *Collection) Histogram(tag string, node *autodiff.Node) error {
	return c.registry.Histogram(c.name, tag, node)
}

// Image registers an image metric in the collection
func (c *Collection) Image(tag string, node *autodiff.Node) error {
	return c.registry.Image(c.name, tag, node)
}

// Merge merges the collection
func (c *Collection) Merge() *Merged {
	return c.registry.Merge(c.name)
}

// Merged is a merged collection. Fetching it evaluates every metric and
// returns the encoded summary as []byte.
type Merged struct {
	collection string
	metrics    []metric
}

// Len returns the number of merged metrics
func (m *Merged) Len() int { return len(m.metrics) }

// Fetch implements autodiff.Fetchable
func (m *Merged) Fetch(ev autodiff.Evaluator) (interface{}, error) {
	values := make([]Value, 0, len(m.metrics))
	for _, mt := range m.metrics {
		v, err := ev.Eval(mt.node)
		if err != nil {
			return nil, errors.Wrapf(err, "summary %s/%s", m.collection, mt.tag)
		}
		value := Value{Tag: mt.tag, Kind: mt.kind}
		switch mt.kind {
		case KindScalar:
			value.Scalar = v.At(0, 0)
		case KindHistogram:
			value.Histogram = NewHistogram(autodiff.Flatten(v))
		case KindImage:
			rows, cols := v.Dims()
			value.Image = &Image{Rows: rows, Cols: cols, Pixels: autodiff.Flatten(v)}
		}
		values = append(values, value)
	}
	return Encode(values)
}
