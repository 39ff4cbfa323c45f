package check

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

type jsonPath struct {
	path   string
	gpath  string
	equals *string
}

// JSONPath passes when the body is JSON and path exists in it.
//
// Paths use the familiar JSONPath form ($.users[0].name) and are evaluated
// with gjson.
func JSONPath(path string) Check {
	return &jsonPath{path: path, gpath: toGjsonPath(path)}
}

// JSONPathEquals passes when path exists and its string value equals want.
func JSONPathEquals(path, want string) Check {
	return &jsonPath{path: path, gpath: toGjsonPath(path), equals: &want}
}

func (c *jsonPath) Name() string {
	if c.equals != nil {
		return fmt.Sprintf("%s == %q", c.path, *c.equals)
	}
	return c.path + " exists"
}

func (c *jsonPath) Evaluate(resp Response) (bool, error) {
	body := resp.Body()
	if len(body) == 0 {
		return false, fmt.Errorf("empty body")
	}
	if !gjson.ValidBytes(body) {
		return false, fmt.Errorf("body is not valid JSON")
	}

	result := gjson.GetBytes(body, c.gpath)
	if !result.Exists() {
		return false, nil
	}
	if c.equals == nil {
		return true, nil
	}

	value := result.String()
	if result.Type == gjson.Null {
		value = "null"
	}
	return value == *c.equals, nil
}

// toGjsonPath converts a JSONPath expression to gjson syntax:
// $.users[0].name becomes users.0.name.
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
