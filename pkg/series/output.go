package series

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Source types of an Output
const (
	SourceDownsample = "downsample"
	SourceRaw        = "raw"
)

// Point is one output row. Downsampled rows carry Min and Max; raw rows carry Value.
type Point struct {
	Time  float64
	Min   float64
	Max   float64
	Value float64
	Raw   bool
}

// MarshalJSON encodes the row as [time, min, max, value] with nulls for unset
// or non-finite fields
func (p Point) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, '[')
	buf = appendFloat(buf, p.Time)
	if p.Raw {
		buf = append(buf, ",null,null,"...)
		buf = appendFloat(buf, p.Value)
	} else {
		buf = append(buf, ',')
		buf = appendFloat(buf, p.Min)
		buf = append(buf, ',')
		buf = appendFloat(buf, p.Max)
		buf = append(buf, ",null"...)
	}
	return append(buf, ']'), nil
}

func appendFloat(buf []byte, v float64) []byte {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return append(buf, "null"...)
	}
	return strconv.AppendFloat(buf, v, 'g', -1, 64)
}

// UnmarshalJSON decodes a [time, min, max, value] row. A row with a value is raw.
func (p *Point) UnmarshalJSON(data []byte) error {
	var row [4]*float64
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if row[0] == nil {
		return fmt.Errorf("point without time: %s", data)
	}

	*p = Point{Time: *row[0]}
	switch {
	case row[3] != nil:
		p.Raw = true
		p.Value = *row[3]
	case row[1] != nil && row[2] != nil:
		p.Min, p.Max = *row[1], *row[2]
	default:
		return fmt.Errorf("point has neither min/max nor value: %s", data)
	}
	return nil
}

// Output is a renderable series slice.
type Output struct {
	Points     []Point `json:"points"`
	SourceType string  `json:"sourceType"`
}
