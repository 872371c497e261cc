package planio

import (
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"gopkg.in/yaml.v3"
)

// hclToYAML converts the top-level attributes of an HCL file to the equivalent YAML document.
func hclToYAML(src []byte, filename string) ([]byte, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	document := make(map[string]any, len(attrs))
	for _, name := range names {
		value, diags := attrs[name].Expr.Value(nil)
		if diags.HasErrors() {
			return nil, errors.Errorf("HCL file %s attribute %q: %s", filename, name, diags.Error())
		}
		native, err := ctyToNative(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "HCL file %s attribute %q", filename, name)
		}
		document[name] = native
	}
	out, err := yaml.Marshal(document)
	return out, errors.Wrapf(err, "failed to convert HCL file %s", filename)
}

// ctyToNative converts a cty value to plain Go values: strings, int64 (integral numbers), float64, bool,
// []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		if bf := v.AsBigFloat(); bf.IsInt() {
			if i, accuracy := bf.Int64(); accuracy == big.Exact {
				return i, nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, errors.Wrap(err, "converting number")
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		list := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, element := it.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, err
			}
			list = append(list, native)
		}
		return list, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, element := it.Element()
			native, err := ctyToNative(element)
			if err != nil {
				return nil, errors.WithMessagef(err, "in attribute %q", key.AsString())
			}
			m[key.AsString()] = native
		}
		return m, nil
	}
	return nil, errors.Errorf("unsupported HCL value type %s", ty.FriendlyName())
}

// yamlToHCL converts a YAML document with a mapping at the top into an HCL file with one attribute per key.
func yamlToHCL(src []byte) ([]byte, error) {
	var document map[string]any
	if err := yaml.Unmarshal(src, &document); err != nil {
		return nil, errors.Wrap(err, "failed to convert to HCL")
	}
	names := make([]string, 0, len(document))
	for name := range document {
		names = append(names, name)
	}
	sort.Strings(names)
	file := hclwrite.NewEmptyFile()
	body := file.Body()
	for _, name := range names {
		value, err := nativeToCty(document[name])
		if err != nil {
			return nil, errors.WithMessagef(err, "attribute %q", name)
		}
		body.SetAttributeValue(name, value)
	}
	return file.Bytes(), nil
}

// nativeToCty is the inverse of ctyToNative, for the values decoded from YAML. Lists become tuples, since
// their elements may differ in type.
func nativeToCty(value any) (cty.Value, error) {
	switch v := value.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case []any:
		if len(v) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elements := make([]cty.Value, len(v))
		for i, element := range v {
			var err error
			if elements[i], err = nativeToCty(element); err != nil {
				return cty.NilVal, err
			}
		}
		return cty.TupleVal(elements), nil
	case map[string]any:
		if len(v) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(v))
		for key, element := range v {
			var err error
			if attrs[key], err = nativeToCty(element); err != nil {
				return cty.NilVal, errors.WithMessagef(err, "in attribute %q", key)
			}
		}
		return cty.ObjectVal(attrs), nil
	}
	return cty.NilVal, errors.Errorf("unsupported value type %T for HCL", value)
}
