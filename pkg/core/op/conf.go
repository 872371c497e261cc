package op

import (
	"maps"
	"math"
	"slices"
)

// Conf is the user-facing configuration of one operator.
//
// Inputs maps each input argument to the logical blob names (LBN) it consumes. Outputs maps each output
// argument to how many blobs it produces: output arguments omitted take a count of 1 if they are
// required, and 0 if they are optional.
type Conf struct {
	Name      string              `yaml:"name"`
	Type      string              `yaml:"type"`
	Inputs    map[string][]string `yaml:"inputs,omitempty"`
	Outputs   map[string]int      `yaml:"outputs,omitempty"`
	Attrs     map[string]any      `yaml:"attrs,omitempty"`
	Placement string              `yaml:"placement,omitempty"`
	Trainable bool                `yaml:"trainable,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c *Conf) Clone() Conf {
	clone := *c
	if c.Inputs != nil {
		clone.Inputs = make(map[string][]string, len(c.Inputs))
		for arg, lbns := range c.Inputs {
			clone.Inputs[arg] = slices.Clone(lbns)
		}
	}
	clone.Outputs = maps.Clone(c.Outputs)
	if c.Attrs != nil {
		clone.Attrs = make(map[string]any, len(c.Attrs))
		for name, value := range c.Attrs {
			clone.Attrs[name] = cloneAttr(value)
		}
	}
	return clone
}

func cloneAttr(value any) any {
	switch v := value.(type) {
	case []any:
		clone := make([]any, len(v))
		for i, e := range v {
			clone[i] = cloneAttr(e)
		}
		return clone
	case map[string]any:
		clone := make(map[string]any, len(v))
		for k, e := range v {
			clone[k] = cloneAttr(e)
		}
		return clone
	case []int:
		return slices.Clone(v)
	case []int64:
		return slices.Clone(v)
	case []float64:
		return slices.Clone(v)
	case []string:
		return slices.Clone(v)
	}
	return value
}

// SetAttr sets an attribute, returning the Conf for chaining.
func (c *Conf) SetAttr(name string, value any) *Conf {
	if c.Attrs == nil {
		c.Attrs = make(map[string]any)
	}
	c.Attrs[name] = value
	return c
}

// HasAttr returns whether the attribute is set.
func (c *Conf) HasAttr(name string) bool {
	_, found := c.Attrs[name]
	return found
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return int(v), true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if i, ok := toInt(value); ok {
		return float64(i), true
	}
	return 0, false
}

// AttrInt returns the integer attribute name, or defaultValue if not set.
func (c *Conf) AttrInt(name string, defaultValue int) (int, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	i, ok := toInt(value)
	if !ok {
		return 0, configErrorf(c, "attribute %q must be an integer, got %T(%v)", name, value, value)
	}
	return i, nil
}

// AttrFloat returns the float attribute name, or defaultValue if not set.
func (c *Conf) AttrFloat(name string, defaultValue float64) (float64, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, configErrorf(c, "attribute %q must be a number, got %T(%v)", name, value, value)
	}
	return f, nil
}

// AttrBool returns the boolean attribute name, or defaultValue if not set.
func (c *Conf) AttrBool(name string, defaultValue bool) (bool, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, configErrorf(c, "attribute %q must be a bool, got %T(%v)", name, value, value)
	}
	return b, nil
}

// AttrString returns the string attribute name, or defaultValue if not set.
func (c *Conf) AttrString(name string, defaultValue string) (string, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	s, ok := value.(string)
	if !ok {
		return "", configErrorf(c, "attribute %q must be a string, got %T(%v)", name, value, value)
	}
	return s, nil
}

// AttrInts returns the list of integers attribute name, or defaultValue if not set.
func (c *Conf) AttrInts(name string, defaultValue []int) ([]int, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case []int:
		return slices.Clone(v), nil
	case []int64:
		ints := make([]int, len(v))
		for i, e := range v {
			ints[i] = int(e)
		}
		return ints, nil
	case []any:
		ints := make([]int, len(v))
		for i, e := range v {
			var ok bool
			ints[i], ok = toInt(e)
			if !ok {
				return nil, configErrorf(c, "attribute %q element #%d must be an integer, got %T(%v)", name, i, e, e)
			}
		}
		return ints, nil
	}
	return nil, configErrorf(c, "attribute %q must be a list of integers, got %T(%v)", name, value, value)
}

// AttrStrings returns the list of strings attribute name, or defaultValue if not set.
func (c *Conf) AttrStrings(name string, defaultValue []string) ([]string, error) {
	value, found := c.Attrs[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		strs := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, configErrorf(c, "attribute %q element #%d must be a string, got %T(%v)", name, i, e, e)
			}
			strs[i] = s
		}
		return strs, nil
	}
	return nil, configErrorf(c, "attribute %q must be a list of strings, got %T(%v)", name, value, value)
}

// MustAttrInt is like AttrInt but panics on error. Use it inside operator capabilities, where panics with
// errors are converted back to errors.
func (c *Conf) MustAttrInt(name string, defaultValue int) int {
	v, err := c.AttrInt(name, defaultValue)
	if err != nil {
		panic(err)
	}
	return v
}

// MustAttrInts is like AttrInts but panics on error.
func (c *Conf) MustAttrInts(name string, defaultValue []int) []int {
	v, err := c.AttrInts(name, defaultValue)
	if err != nil {
		panic(err)
	}
	return v
}

// MustAttrString is like AttrString but panics on error.
func (c *Conf) MustAttrString(name string, defaultValue string) string {
	v, err := c.AttrString(name, defaultValue)
	if err != nil {
		panic(err)
	}
	return v
}

// MustAttrFloat is like AttrFloat but panics on error.
func (c *Conf) MustAttrFloat(name string, defaultValue float64) float64 {
	v, err := c.AttrFloat(name, defaultValue)
	if err != nil {
		panic(err)
	}
	return v
}

// RequireAttrs returns a *ConfigError if any of the attributes is missing.
func (c *Conf) RequireAttrs(names ...string) error {
	for _, name := range names {
		if !c.HasAttr(name) {
			return configErrorf(c, "missing required attribute %q", name)
		}
	}
	return nil
}

// Errorf returns a *ConfigError for this configuration.
func (c *Conf) Errorf(format string, args ...any) error {
	return configErrorf(c, format, args...)
}
