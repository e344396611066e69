package analysis

import (
	"fmt"
	"os"

	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/vision"
	"gopkg.in/yaml.v3"
)

// 规则类型
const (
	TypeLabel     = "label"
	TypeAttribute = "attribute"
	TypeCount     = "count"
	TypeZone      = "zone"
)

// Build 由配置构造规则，错误包装 ErrConfiguration
// 未写 type 时根据字段推断
func Build(r conf.Rule) (Rule, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("%w: rule name is required", vision.ErrConfiguration)
	}
	m := meta{name: r.Name, kind: vision.AlertObjectDetected}
	if r.Kind != "" {
		kind, err := vision.ParseAlertKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("rule[%s]: %w", r.Name, err)
		}
		m.kind = kind
	}
	sev, err := vision.ParseSeverity(r.Severity)
	if err != nil {
		return nil, fmt.Errorf("rule[%s]: %w", r.Name, err)
	}
	m.severity = sev
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: rule[%s] min_confidence out of [0,1]", vision.ErrConfiguration, r.Name)
	}
	f := filter{labels: r.Labels, minConfidence: r.MinConfidence}

	typ := r.Type
	if typ == "" {
		typ = inferType(r)
	}
	switch typ {
	case TypeLabel:
		return &LabelRule{meta: m, filter: f}, nil
	case TypeAttribute:
		if r.Key == "" || r.Value == nil {
			return nil, fmt.Errorf("%w: rule[%s] attribute rule requires key and value", vision.ErrConfiguration, r.Name)
		}
		if _, err := equal(r.Value, r.Value); err != nil {
			return nil, fmt.Errorf("%w: rule[%s] value: %w", vision.ErrConfiguration, r.Name, err)
		}
		return &AttributeRule{meta: m, filter: f, key: r.Key, value: r.Value}, nil
	case TypeCount:
		if r.MinCount < 1 {
			return nil, fmt.Errorf("%w: rule[%s] min_count must be positive", vision.ErrConfiguration, r.Name)
		}
		return &CountRule{meta: m, filter: f, minCount: r.MinCount}, nil
	case TypeZone:
		zone, err := vision.NewBBox(r.Zone)
		if err != nil || zone.Area() <= 0 {
			return nil, fmt.Errorf("%w: rule[%s] zone must be [x,y,w,h] with positive size", vision.ErrConfiguration, r.Name)
		}
		return &ZoneRule{meta: m, filter: f, zone: zone}, nil
	}
	return nil, fmt.Errorf("%w: rule[%s] unknown type[%s]", vision.ErrConfiguration, r.Name, typ)
}

func inferType(r conf.Rule) string {
	switch {
	case r.Key != "":
		return TypeAttribute
	case len(r.Zone) > 0:
		return TypeZone
	case r.MinCount > 0:
		return TypeCount
	}
	return TypeLabel
}

// ruleFile yaml 规则文件
//
//	rules:
//	  - name: crowding
//	    type: count
//	    kind: CROWDING
//	    labels: [person]
//	    min_count: 5
type ruleFile struct {
	Rules []conf.Rule `yaml:"rules"`
}

// LoadRuleFile 读取 yaml 规则文件
func LoadRuleFile(path string) ([]conf.Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: rule file: %w", vision.ErrConfiguration, err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("%w: rule file %s: %w", vision.ErrConfiguration, path, err)
	}
	return file.Rules, nil
}

// BuildRules 内联规则在前，规则文件在后，顺序即注册顺序
func BuildRules(cfg conf.Analysis) ([]Rule, error) {
	defs := cfg.Rules
	if cfg.RuleFile != "" {
		more, err := LoadRuleFile(cfg.RuleFile)
		if err != nil {
			return nil, err
		}
		defs = append(defs[:len(defs):len(defs)], more...)
	}
	rules := make([]Rule, 0, len(defs))
	for _, d := range defs {
		r, err := Build(d)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
