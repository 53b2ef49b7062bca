package mutation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"mutiny/internal/config"
)

func lines(rws []Rewrite) []string {
	out := make([]string, 0, len(rws))
	for _, r := range rws {
		out = append(out, r.Line)
	}
	return out
}

func TestOperatorRewrites(t *testing.T) {
	tests := []struct {
		name string
		op   func(string) []Rewrite
		line string
		want []string
	}{
		{"AOR spaced", rewriteAOR, "    total = a + b * c", []string{"    total = a - b * c", "    total = a + b / c"}},
		{"AOR augmented", rewriteAOR, "    n += 1", []string{"    n -= 1"}},
		{"AOR floor division", rewriteAOR, "x = a // b", []string{"x = a / b"}},
		{"ROR equality", rewriteROR, "    if a == b:", []string{"    if a != b:"}},
		{"ROR ordering", rewriteROR, "    if a < b:", []string{"    if a <= b:"}},
		{"ROR is", rewriteROR, "    if o is None:", []string{"    if o is not None:"}},
		{"ROR is not", rewriteROR, "    if o is not None:", []string{"    if o is None:"}},
		{"ROR skips imports", rewriteROR, "from a import b == c", nil},
		{"LCR", rewriteLCR, "    if a and b or c:", []string{"    if a or b or c:", "    if a and b and c:"}},
		{"CDL assignment", rewriteCDL, "    flag = True", []string{"    flag = False"}},
		{"CDL numbers", rewriteCDL, "    x = y[0]", nil},
		{"CDL spaced numbers", rewriteCDL, "    x = 0", []string{"    x = 1"}},
		{"CDL skips def", rewriteCDL, "def f(a=True):", nil},
		{"CDL call args", rewriteCDL, "    f(a, None)", []string{"    f(a, {})"}},
		{"UOI", rewriteUOI, "        if value:", []string{"        if not (value):"}},
		{"UOI keeps inline body", rewriteUOI, "    if x: return y", []string{"    if not (x): return y"}},
		{"UOI skips negated", rewriteUOI, "    if not value:", nil},
		{"RIL", rewriteRIL, "    return obj", []string{"    return None", "    return {}", "    return []"}},
		{"RIL skips identical", rewriteRIL, "    return {}", []string{"    return None", "    return []"}},
		{"RIL skips return None", rewriteRIL, "    return None", nil},
		{"STR", rewriteSTR, `    return str(o) + "x"`, []string{`    return lambda x: "" or str(o)) + "x"`}},
		{"STR needs quotes", rewriteSTR, "    return str(o)", nil},
		{"MSI", rewriteMSI, "    for k in d.keys():", []string{"    for k in d.values():"}},
		{"MSI append", rewriteMSI, "    out.append(x)", []string{"    out.insert(0, x)"}},
		{"IOD in", rewriteIOD, "    if k in seen:", []string{"    if k not in seen:"}},
		{"IOD skips for", rewriteIOD, "    for k in seen:", nil},
		{"IOD not in", rewriteIOD, "    if k not in seen:", []string{"    if k in seen:"}},
		{"TYP", rewriteTYP, "    if isinstance(o, str):", []string{"    if not isinstance(o, str):"}},
		{"TYP skips negated", rewriteTYP, "    if not isinstance(o, str):", nil},
		{"TYP type", rewriteTYP, "    t = type(o)", []string{"    t = str(type(o)"}},
		{"TYP identifier boundary", rewriteTYP, "    t = dtype(o)", nil},
		{"DCI", rewriteDCI, "    seen |= other", []string{"    seen &= other"}},
		{"DCI get", rewriteDCI, "    v = d.get(k)", []string{"    v = d[k)"}},
		{"FCR", rewriteFCR, "    n = int(s)", []string{"    n = float(s)"}},
		{"FCR identifier boundary", rewriteFCR, "    print(s)", nil},
		{"FCR attribute", rewriteFCR, "    v = obj.dict(x)", nil},
		{"FCR skips def", rewriteFCR, "def int(x):", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lines(tt.op(tt.line))
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rewrites mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRewriteDescriptions(t *testing.T) {
	rws := rewriteROR("    if a == b:")
	assert.Equal(t, "Replace '==' with '!='", rws[0].Description)

	rws = rewriteRIL("    return x")
	assert.Equal(t, "Replace return value with empty dict", rws[1].Description)

	rws = rewriteTYP("isinstance(a, b)")
	assert.Equal(t, "Negate type check 'isinstance('", rws[0].Description)
}

func TestOperatorCatalogue(t *testing.T) {
	codes := make([]string, 0, len(Operators))
	for _, op := range Operators {
		codes = append(codes, op.Code)
		assert.NotEqual(t, "Unknown", OperatorName(op.Code))
	}
	if diff := cmp.Diff(config.KnownOperators, codes); diff != "" {
		t.Errorf("config and generator disagree on operators (-config +generator):\n%s", diff)
	}
	assert.Equal(t, "Unknown", OperatorName("XYZ"))
	assert.Equal(t, "In/Not in Operator", OperatorName("IOD"))
}

func TestReplaceCall(t *testing.T) {
	got, ok := replaceCall("print(int(x))", "int(", "float(")
	assert.True(t, ok)
	assert.Equal(t, "print(float(x))", got)

	_, ok = replaceCall("sprint(x)", "int(", "float(")
	assert.False(t, ok)
}
