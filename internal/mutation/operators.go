package mutation

import (
	"strings"
)

// Rewrite is one candidate replacement of a source line.
type Rewrite struct {
	Line        string
	Description string
}

// Operator is a named family of textual rewrites.
type Operator struct {
	Code string
	Name string

	rewrite func(line string) []Rewrite
}

// Rewrites applies the operator to a full source line.
func (o Operator) Rewrites(line string) []Rewrite {
	return o.rewrite(line)
}

type pair struct{ from, to string }

// Operators in generation order.
var Operators = []Operator{
	{Code: "AOR", Name: "Arithmetic Operator Replacement", rewrite: rewriteAOR},
	{Code: "ROR", Name: "Relational Operator Replacement", rewrite: rewriteROR},
	{Code: "LCR", Name: "Logical Connector Replacement", rewrite: rewriteLCR},
	{Code: "CDL", Name: "Constant Replacement", rewrite: rewriteCDL},
	{Code: "UOI", Name: "Unary Operator Insertion", rewrite: rewriteUOI},
	{Code: "RIL", Name: "Return Statement Mutation", rewrite: rewriteRIL},
	{Code: "STR", Name: "String Mutation", rewrite: rewriteSTR},
	{Code: "MSI", Name: "Method Call Modification", rewrite: rewriteMSI},
	{Code: "IOD", Name: "In/Not in Operator", rewrite: rewriteIOD},
	{Code: "TYP", Name: "Type Check Mutation", rewrite: rewriteTYP},
	{Code: "DCI", Name: "Dictionary/Container Operations", rewrite: rewriteDCI},
	{Code: "FCR", Name: "Function Call Replacement", rewrite: rewriteFCR},
}

// OperatorName returns the human name of an operator code, or "Unknown".
func OperatorName(code string) string {
	for _, op := range Operators {
		if op.Code == code {
			return op.Name
		}
	}
	return "Unknown"
}

// LookupOperator finds an operator by code.
func LookupOperator(code string) (Operator, bool) {
	for _, op := range Operators {
		if op.Code == code {
			return op, true
		}
	}
	return Operator{}, false
}

func replaced(from, to string) string {
	return "Replace '" + strings.TrimSpace(from) + "' with '" + strings.TrimSpace(to) + "'"
}

var arithmeticOps = []pair{{"+", "-"}, {"-", "+"}, {"*", "/"}, {"/", "*"}, {"//", "/"}, {"%", "//"}}

// rewriteAOR swaps a spaced binary operator, falling back to the augmented
// assignment form.
func rewriteAOR(line string) []Rewrite {
	var out []Rewrite
	for _, p := range arithmeticOps {
		spaced := " " + p.from + " "
		augmented := p.from + "="
		if !strings.Contains(line, spaced) && !strings.Contains(line, augmented) {
			continue
		}
		mutated := strings.Replace(line, spaced, " "+p.to+" ", 1)
		if mutated == line {
			mutated = strings.Replace(line, augmented, p.to+"=", 1)
		}
		if mutated != line {
			out = append(out, Rewrite{mutated, replaced(p.from, p.to)})
		}
	}
	return out
}

var relationalOps = []pair{
	{"==", "!="}, {"!=", "=="}, {" < ", " <= "}, {" > ", " >= "},
	{"<=", "<"}, {">=", ">"}, {" is ", " is not "}, {" is not ", " is "},
}

func rewriteROR(line string) []Rewrite {
	if strings.Contains(line, "import") {
		return nil
	}
	var out []Rewrite
	for _, p := range relationalOps {
		idx := strings.Index(line, p.from)
		if idx < 0 {
			continue
		}
		// " is " → " is not " on an existing "is not" would yield "is not not".
		if p.from == " is " && strings.HasPrefix(line[idx:], " is not ") {
			continue
		}
		out = append(out, Rewrite{strings.Replace(line, p.from, p.to, 1), replaced(p.from, p.to)})
	}
	return out
}

var logicalOps = []pair{{" and ", " or "}, {" or ", " and "}}

func rewriteLCR(line string) []Rewrite {
	return replaceEach(line, logicalOps)
}

var constantReplacements = []pair{
	{"= True", "= False"}, {"= False", "= True"},
	{"return True", "return False"}, {"return False", "return True"},
	{" True,", " False,"}, {" False,", " True,"},
	{" True)", " False)"}, {" False)", " True)"},
	{"return None", "return {}"}, {"return {}", "return None"},
	{"return []", "return [None]"}, {" None,", " {},"}, {" None)", " {})"},
	{" 0", " 1"}, {" 1", " 0"},
}

func rewriteCDL(line string) []Rewrite {
	if strings.Contains(line, "def ") || strings.Contains(line, "class ") || strings.Contains(line, "import") {
		return nil
	}
	return replaceEach(line, constantReplacements)
}

// rewriteUOI negates the condition of an if statement. Text after the
// colon (an inline body) is kept.
func rewriteUOI(line string) []Rewrite {
	stripped := strings.TrimSpace(line)
	if !strings.HasPrefix(stripped, "if ") || !strings.Contains(line, ":") || strings.Contains(line, "not ") {
		return nil
	}
	ifPos := strings.Index(line, "if ")
	colon := strings.Index(line[ifPos:], ":")
	if colon < 0 {
		return nil
	}
	colon += ifPos
	condition := strings.TrimSpace(line[ifPos+3 : colon])
	mutated := line[:ifPos] + "if not (" + condition + "):" + line[colon+1:]
	return []Rewrite{{mutated, "Insert 'not' operator in condition"}}
}

var returnValues = []pair{
	{"None", "Replace return value with None"},
	{"{}", "Replace return value with empty dict"},
	{"[]", "Replace return value with empty list"},
}

func rewriteRIL(line string) []Rewrite {
	stripped := strings.TrimSpace(line)
	if !strings.HasPrefix(stripped, "return ") || stripped == "return None" {
		return nil
	}
	indent := line[:strings.Index(line, "return")]
	var out []Rewrite
	for _, v := range returnValues {
		mutated := indent + "return " + v.from
		if strings.TrimSpace(mutated) != stripped {
			out = append(out, Rewrite{mutated, v.to})
		}
	}
	return out
}

// rewriteSTR wraps a returned str() call so it can short-circuit to "".
func rewriteSTR(line string) []Rewrite {
	if !strings.ContainsAny(line, `"'`) || strings.Contains(line, "import") || !strings.Contains(line, "return str(") {
		return nil
	}
	mutated := strings.Replace(line, "str(", `lambda x: "" or str(`, 1)
	mutated = strings.Replace(mutated, ")", "))", 1)
	return []Rewrite{{mutated, "Mutate str() call"}}
}

var methodMutations = []pair{
	{".keys()", ".values()"}, {".values()", ".keys()"},
	{".items()", ".keys()"}, {".append(", ".insert(0, "},
	{".model_dump(", ".model_dump_json("}, {".dict()", ".json()"},
	{".asdict(", ".astuple("}, {".set(", ".frozenset("},
	{".list(", ".tuple("},
}

func rewriteMSI(line string) []Rewrite {
	return replaceEach(line, methodMutations)
}

func rewriteIOD(line string) []Rewrite {
	switch {
	case strings.Contains(line, " in ") && !strings.Contains(line, " not in ") &&
		!strings.Contains(line, "import") && !strings.Contains(line, "for "):
		return []Rewrite{{strings.Replace(line, " in ", " not in ", 1), "Replace 'in' with 'not in'"}}
	case strings.Contains(line, " not in "):
		return []Rewrite{{strings.Replace(line, " not in ", " in ", 1), "Replace 'not in' with 'in'"}}
	}
	return nil
}

var typeChecks = []pair{
	{"isinstance(", "not isinstance("},
	{"is_dataclass(", "not is_dataclass("},
	{"type(", "str(type("},
}

func rewriteTYP(line string) []Rewrite {
	var out []Rewrite
	for _, p := range typeChecks {
		if strings.Contains(line, "not "+p.from) {
			continue
		}
		if mutated, ok := replaceCall(line, p.from, p.to); ok {
			out = append(out, Rewrite{mutated, "Negate type check '" + p.from + "'"})
		}
	}
	return out
}

var containerOps = []pair{
	{"&=", "|="}, {"|=", "&="}, {"-=", "+="},
	{"[key]", ".get(key, None)"}, {".get(", "["},
}

func rewriteDCI(line string) []Rewrite {
	return replaceEach(line, containerOps)
}

var callReplacements = []pair{
	{"int(", "float("}, {"float(", "int("},
	{"str(", "repr("}, {"list(", "tuple("}, {"tuple(", "list("},
	{"set(", "frozenset("}, {"dict(", "list("},
}

func rewriteFCR(line string) []Rewrite {
	if strings.Contains(line, "def ") || strings.Contains(line, "import") {
		return nil
	}
	var out []Rewrite
	for _, p := range callReplacements {
		if mutated, ok := replaceCall(line, p.from, p.to); ok {
			out = append(out, Rewrite{mutated, replaced(p.from, p.to)})
		}
	}
	return out
}

// replaceEach replaces the first occurrence of every pair present in line.
func replaceEach(line string, pairs []pair) []Rewrite {
	var out []Rewrite
	for _, p := range pairs {
		if strings.Contains(line, p.from) {
			out = append(out, Rewrite{strings.Replace(line, p.from, p.to, 1), replaced(p.from, p.to)})
		}
	}
	return out
}

// replaceCall replaces the first occurrence of a call prefix such as "int("
// that is not the tail of a longer identifier or an attribute access, so
// "print(" never matches "int(".
func replaceCall(line, call, with string) (string, bool) {
	offset := 0
	for {
		idx := strings.Index(line[offset:], call)
		if idx < 0 {
			return line, false
		}
		idx += offset
		if idx == 0 || !isIdentByte(line[idx-1]) {
			return line[:idx] + with + line[idx+len(call):], true
		}
		offset = idx + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
