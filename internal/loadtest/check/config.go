package check

import (
	"fmt"
)

// Config is the declarative form of a check, as written in a plan file.
//
//	checks:
//	  - type: status
//	    status: 200
//	  - type: jsonpath
//	    path: $.id
//	    equals: "42"
type Config struct {
	// Name overrides the generated check name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type: status, statusIn, bodyContains, bodyMatches, header, jsonpath, jsonschema
	Type string `json:"type" yaml:"type"`

	Status   int    `json:"status,omitempty" yaml:"status,omitempty"`
	In       []int  `json:"in,omitempty" yaml:"in,omitempty"`
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Header   string `json:"header,omitempty" yaml:"header,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Equals   string `json:"equals,omitempty" yaml:"equals,omitempty"`
	Schema   string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// FromConfig builds a Check from its declarative form.
func FromConfig(cfg Config) (Check, error) {
	var (
		c   Check
		err error
	)

	switch cfg.Type {
	case "status":
		if cfg.Status <= 0 {
			return nil, fmt.Errorf("status check requires a status code")
		}
		c = Status(cfg.Status)

	case "statusIn":
		if len(cfg.In) == 0 {
			return nil, fmt.Errorf("statusIn check requires at least one code")
		}
		c = StatusIn(cfg.In...)

	case "bodyContains":
		if cfg.Contains == "" {
			return nil, fmt.Errorf("bodyContains check requires contains")
		}
		c = BodyContains(cfg.Contains)

	case "bodyMatches":
		c, err = BodyMatches(cfg.Pattern)

	case "header":
		if cfg.Header == "" {
			return nil, fmt.Errorf("header check requires header")
		}
		c = HeaderEquals(cfg.Header, cfg.Equals)

	case "jsonpath":
		if cfg.Path == "" {
			return nil, fmt.Errorf("jsonpath check requires path")
		}
		if cfg.Equals != "" {
			c = JSONPathEquals(cfg.Path, cfg.Equals)
		} else {
			c = JSONPath(cfg.Path)
		}

	case "jsonschema":
		c, err = JSONSchema(cfg.Schema)

	case "":
		return nil, fmt.Errorf("check type is required")

	default:
		return nil, fmt.Errorf("unknown check type: %s", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	return Named(cfg.Name, c), nil
}

// FromConfigs builds every check in cfgs, stopping at the first error.
func FromConfigs(cfgs []Config) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, cfg := range cfgs {
		c, err := FromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}
