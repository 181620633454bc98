package config

import (
	"fmt"
	"math/rand/v2"

	"gopkg.in/yaml.v3"
)

// StepMode 一個流程步驟的執行方式
type StepMode string

const (
	StepSingle StepMode = "single" // 執行一個模組
	StepAll    StepMode = "all"    // 以隨機順序執行全部
	StepOneOf  StepMode = "one_of" // 隨機挑一個執行
)

// Step flow.tasks 中的一個項目
//
//	tasks:
//	  - jaine_faucet
//	  - all: [onchaingm, morkie_mint]
//	  - one_of: [tradegpt_staking, astrostake_staking]
type Step struct {
	Mode    StepMode
	Modules []string
}

// UnmarshalYAML 解析字串或 {all|one_of: [...]}
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return fmt.Errorf("line %d: invalid step: %w", node.Line, err)
		}
		s.Mode = StepSingle
		s.Modules = []string{name}
		return nil
	case yaml.MappingNode:
		var m map[string][]string
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("line %d: invalid step: %w", node.Line, err)
		}
		if len(m) != 1 {
			return fmt.Errorf("line %d: step must have exactly one of 'all' or 'one_of'", node.Line)
		}
		for k, v := range m {
			switch StepMode(k) {
			case StepAll, StepOneOf:
				s.Mode = StepMode(k)
				s.Modules = v
			default:
				return fmt.Errorf("line %d: unknown step mode %q", node.Line, k)
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: step must be a module name or a mapping", node.Line)
	}
}

// MarshalYAML 對應 UnmarshalYAML
func (s Step) MarshalYAML() (interface{}, error) {
	if s.Mode == StepSingle && len(s.Modules) == 1 {
		return s.Modules[0], nil
	}
	return map[string][]string{string(s.Mode): s.Modules}, nil
}

// Resolve 依模式展開為實際要執行的模組名稱
func (s Step) Resolve(rng *rand.Rand) []string {
	if len(s.Modules) == 0 {
		return nil
	}
	switch s.Mode {
	case StepAll:
		out := append([]string(nil), s.Modules...)
		shuffle(rng, out)
		return out
	case StepOneOf:
		return []string{s.Modules[intN(rng, len(s.Modules))]}
	default:
		return []string{s.Modules[0]}
	}
}

// ResolveFlow 展開整個流程
func ResolveFlow(steps []Step, rng *rand.Rand) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Resolve(rng)...)
	}
	return out
}

func intN(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}

func shuffle(rng *rand.Rand, s []string) {
	swap := func(i, j int) { s[i], s[j] = s[j], s[i] }
	if rng == nil {
		rand.Shuffle(len(s), swap)
		return
	}
	rng.Shuffle(len(s), swap)
}
