package optimizer

import (
	"math"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/npanj/spark/vector"
)

// Task is the state shipped to every partition for one aggregation pass. It
// holds no records; its encoded size depends only on the parameter count.
//
// Wire format (protobuf):
//
//	1: params       packed double
//	2: loss         varint
//	3: intercept    varint (bool)
//	4: fraction     fixed64 (double)
//	5: seed         varint
type Task struct {
	Params    vector.Vector
	Loss      LossKind
	Intercept bool
	Fraction  float64
	Seed      int64
}

const (
	taskParamsField    protowire.Number = 1
	taskLossField      protowire.Number = 2
	taskInterceptField protowire.Number = 3
	taskFractionField  protowire.Number = 4
	taskSeedField      protowire.Number = 5
)

// ErrMalformedTask is returned when a payload cannot be decoded
var ErrMalformedTask = errors.New("malformed task payload")

// Marshal encodes the task
func (t Task) Marshal() []byte {
	b := make([]byte, 0, 8*len(t.Params)+48)
	b = AppendPackedDoubles(b, taskParamsField, t.Params)
	b = protowire.AppendTag(b, taskLossField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Loss))
	b = protowire.AppendTag(b, taskInterceptField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(t.Intercept))
	b = protowire.AppendTag(b, taskFractionField, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(t.Fraction))
	b = protowire.AppendTag(b, taskSeedField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Seed))
	return b
}

// UnmarshalTask decodes a payload produced by Task.Marshal. Unknown fields
// are skipped.
func UnmarshalTask(b []byte) (Task, error) {
	var t Task
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Task{}, errors.Wrap(ErrMalformedTask, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == taskParamsField && typ == protowire.BytesType:
			vals, m := ConsumePackedDoubles(b)
			if m < 0 {
				return Task{}, errors.Wrap(ErrMalformedTask, "params")
			}
			t.Params = vals
			n = m
		case num == taskLossField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			t.Loss = LossKind(v)
			n = m
		case num == taskInterceptField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			t.Intercept = protowire.DecodeBool(v)
			n = m
		case num == taskFractionField && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			t.Fraction = math.Float64frombits(v)
			n = m
		case num == taskSeedField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			t.Seed = int64(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Task{}, errors.Wrapf(ErrMalformedTask, "field %d: %s", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return t, nil
}

// AppendPackedDoubles appends vals as a packed repeated double field
func AppendPackedDoubles(b []byte, num protowire.Number, vals []float64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vals)))
	for _, v := range vals {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// ConsumePackedDoubles parses the length-prefixed body of a packed double
// field and returns the values and the number of bytes read, or a negative
// length on error.
func ConsumePackedDoubles(b []byte) (vector.Vector, int) {
	body, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n
	}
	if len(body)%8 != 0 {
		return nil, -1
	}
	vals := make(vector.Vector, 0, len(body)/8)
	for len(body) > 0 {
		v, m := protowire.ConsumeFixed64(body)
		if m < 0 {
			return nil, m
		}
		vals = append(vals, math.Float64frombits(v))
		body = body[m:]
	}
	return vals, n
}
