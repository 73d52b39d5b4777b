package testutil

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// powRe matches the Fortran-style "x**n" operator, which HCL lacks.
var powRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*|[0-9.]+)\*\*([A-Za-z_][A-Za-z0-9_]*|[0-9.]+)`)

// spaceOperators surrounds the arithmetic operators with spaces. HCL
// identifiers may contain "-", so "ia-ib" would otherwise name a variable.
func spaceOperators(src string) string {
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		c := src[i]
		if strings.IndexByte("+-*/", c) >= 0 && !exponentSign(src, i) {
			b.WriteByte(' ')
			b.WriteByte(c)
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// exponentSign reports whether the sign at src[i] belongs to a number
// such as "1e-3".
func exponentSign(src string, i int) bool {
	if i < 2 || (src[i] != '+' && src[i] != '-') || (src[i-1] != 'e' && src[i-1] != 'E') {
		return false
	}
	j := i - 2
	for j >= 0 && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
		j--
	}
	if j == i-2 {
		return false
	}
	if j < 0 {
		return true
	}
	c := src[j]
	return !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}

func unaryFunc(f func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			return cty.NumberFloatVal(f(x)), nil
		},
	})
}

var mathsFuncs = map[string]function.Function{
	"sqrt": unaryFunc(math.Sqrt),
	"abs":  unaryFunc(math.Abs),
	"pow": function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}, {Name: "y", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			y, _ := args[1].AsBigFloat().Float64()
			return cty.NumberFloatVal(math.Pow(x, y)), nil
		},
	}),
}

// EvalMaths evaluates a KAPPA:MATHS expression such as "sqrt(ia**2+ib**2)"
// for one pixel, with vars giving the pixel value of each input.
func EvalMaths(expr string, vars map[string]float64) (float64, error) {
	src := spaceOperators(powRe.ReplaceAllString(expr, "pow($1,$2)"))
	parsed, diags := hclsyntax.ParseExpression([]byte(src), "maths.exp", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return 0, fmt.Errorf("parse %q: %s", expr, diags.Error())
	}

	values := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		values[k] = cty.NumberFloatVal(v)
	}
	ctx := &hcl.EvalContext{Variables: values, Functions: mathsFuncs}

	val, diags := parsed.Value(ctx)
	if diags.HasErrors() {
		return 0, fmt.Errorf("evaluate %q: %s", expr, diags.Error())
	}
	if !val.Type().Equals(cty.Number) {
		return 0, fmt.Errorf("evaluate %q: result is %s, not a number", expr, val.Type().FriendlyName())
	}
	f, _ := val.AsBigFloat().Float64()
	return f, nil
}
