package summary

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Value is one decoded summary entry
type Value struct {
	Tag       string
	Kind      Kind
	Scalar    float64
	Histogram *Histogram
	Image     *Image
}

// Image is a single-channel image stored row-major
type Image struct {
	Rows   int
	Cols   int
	Pixels []float64
}

func toList(xs []float64) []interface{} {
	out := make([]interface{}, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func fromList(raw interface{}) ([]float64, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("expected a list, got %T", raw)
	}
	out := make([]float64, len(list))
	for i, x := range list {
		f, ok := x.(float64)
		if !ok {
			return nil, errors.Errorf("element %d: expected a number, got %T", i, x)
		}
		out[i] = f
	}
	return out, nil
}

func (v Value) fields() map[string]interface{} {
	f := map[string]interface{}{
		"tag":  v.Tag,
		"kind": string(v.Kind),
	}
	switch v.Kind {
	case KindScalar:
		f["value"] = v.Scalar
	case KindHistogram:
		h := v.Histogram
		f["min"] = h.Min
		f["max"] = h.Max
		f["num"] = h.Num
		f["sum"] = h.Sum
		f["sum_squares"] = h.SumSquares
		f["bucket_limit"] = toList(h.BucketLimits)
		f["bucket"] = toList(h.Buckets)
	case KindImage:
		f["rows"] = float64(v.Image.Rows)
		f["cols"] = float64(v.Image.Cols)
		f["pixels"] = toList(v.Image.Pixels)
	}
	return f
}

// Encode serializes values into a deterministic protobuf blob. The result is
// never nil, even for an empty summary.
func Encode(values []Value) ([]byte, error) {
	entries := make([]interface{}, len(values))
	for i, v := range values {
		if v.Kind == KindHistogram && v.Histogram == nil {
			return nil, errors.Errorf("summary %q: histogram value missing", v.Tag)
		}
		if v.Kind == KindImage && v.Image == nil {
			return nil, errors.Errorf("summary %q: image value missing", v.Tag)
		}
		entries[i] = v.fields()
	}
	s, err := structpb.NewStruct(map[string]interface{}{"value": entries})
	if err != nil {
		return nil, errors.Wrap(err, "building summary")
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling summary")
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// Decode parses a blob produced by Encode
func Decode(b []byte) ([]Value, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshalling summary")
	}
	raw, ok := s.AsMap()["value"]
	if !ok {
		return nil, errors.New("summary has no values")
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("summary values: expected a list, got %T", raw)
	}

	values := make([]Value, 0, len(entries))
	for i, e := range entries {
		f, ok := e.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("summary value %d: expected a struct, got %T", i, e)
		}
		v, err := decodeValue(f)
		if err != nil {
			return nil, errors.Wrapf(err, "summary value %d", i)
		}
		values = append(values, v)
	}
	return values, nil
}

func number(f map[string]interface{}, key string) float64 {
	x, _ := f[key].(float64)
	return x
}

func decodeValue(f map[string]interface{}) (Value, error) {
	tag, _ := f["tag"].(string)
	kind, _ := f["kind"].(string)
	v := Value{Tag: tag, Kind: Kind(kind)}

	switch v.Kind {
	case KindScalar:
		v.Scalar = number(f, "value")
	case KindHistogram:
		limits, err := fromList(f["bucket_limit"])
		if err != nil {
			return v, errors.Wrap(err, "bucket limits")
		}
		buckets, err := fromList(f["bucket"])
		if err != nil {
			return v, errors.Wrap(err, "buckets")
		}
		v.Histogram = &Histogram{
			Min:          number(f, "min"),
			Max:          number(f, "max"),
			Num:          number(f, "num"),
			Sum:          number(f, "sum"),
			SumSquares:   number(f, "sum_squares"),
			BucketLimits: limits,
			Buckets:      buckets,
		}
	case KindImage:
		pixels, err := fromList(f["pixels"])
		if err != nil {
			return v, errors.Wrap(err, "pixels")
		}
		v.Image = &Image{Rows: int(number(f, "rows")), Cols: int(number(f, "cols")), Pixels: pixels}
	default:
		return v, errors.Errorf("unknown summary kind %q", kind)
	}
	return v, nil
}
