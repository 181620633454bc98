package config

import (
	"fmt"
	"math/rand/v2"
	"time"

	"gopkg.in/yaml.v3"
)

// Range 閉區間 [Min, Max]；YAML 寫成 [min, max] 或單一數字
type Range struct {
	Min int
	Max int
}

// R 建立 Range
func R(min, max int) Range { return Range{Min: min, Max: max} }

// UnmarshalYAML 接受 [a, b] 序列或純量
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v int
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: invalid range: %w", node.Line, err)
		}
		r.Min, r.Max = v, v
		return nil
	case yaml.SequenceNode:
		var vals []int
		if err := node.Decode(&vals); err != nil {
			return fmt.Errorf("line %d: invalid range: %w", node.Line, err)
		}
		if len(vals) != 2 {
			return fmt.Errorf("line %d: range needs exactly 2 values, got %d", node.Line, len(vals))
		}
		r.Min, r.Max = vals[0], vals[1]
		return nil
	default:
		return fmt.Errorf("line %d: range must be a list [min, max]", node.Line)
	}
}

// MarshalYAML 輸出為 [min, max]
func (r Range) MarshalYAML() (interface{}, error) {
	return []int{r.Min, r.Max}, nil
}

// Valid Min <= Max 且皆非負
func (r Range) Valid() bool {
	return r.Min >= 0 && r.Min <= r.Max
}

// Pick 回傳 [Min, Max] 內的隨機整數
func (r Range) Pick() int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.IntN(r.Max-r.Min+1)
}

// Duration 以秒為單位隨機取一個時長
func (r Range) Duration() time.Duration {
	return time.Duration(r.Pick()) * time.Second
}

// Seconds 以秒為單位的 [Min, Max]
func (r Range) Seconds() (time.Duration, time.Duration) {
	return time.Duration(r.Min) * time.Second, time.Duration(r.Max) * time.Second
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}
