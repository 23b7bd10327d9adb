package filter

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParsePrecedence(t *testing.T) {
	n, err := Parse(`caseType:'A' or priority:'HIGH' and not phase:'X'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Or{
		Left: Compare{Field: "caseType", Op: OpEq, Value: "A"},
		Right: And{
			Left:  Compare{Field: "priority", Op: OpEq, Value: "HIGH"},
			Right: Not{Inner: Compare{Field: "phase", Op: OpEq, Value: "X"}},
		},
	}
	if !reflect.DeepEqual(n, want) {
		t.Fatalf("got %#v", n)
	}
}

func TestParseValues(t *testing.T) {
	cases := map[string]any{
		`id>:42`:                         int64(42),
		`id<-1`:                          int64(-1),
		`facilities.mainFacility:TRUE`:   true,
		`description:'it\'s'`:            "it's",
		`stakeholders.lastName~'And*'`:   "And*",
		`  notes.title : 'spaced'  `:     "spaced",
	}
	for src, want := range cases {
		n, err := Parse(src)
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		c, ok := n.(Compare)
		if !ok || c.Value != want {
			t.Fatalf("%s: got %#v", src, n)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		`caseType:`,
		`caseType 'A'`,
		`caseType:'A`,
		`(caseType:'A'`,
		`caseType:'A' and`,
		`caseType:A`,
		`caseType:'A' priority:'B'`,
		`#`,
	} {
		_, err := Parse(src)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("%q: expected syntax error, got %v", src, err)
		}
	}
}

func TestEmptyPredicateMatchesAll(t *testing.T) {
	n, err := Parse("   ")
	if err != nil || n != nil {
		t.Fatalf("blank predicate: %v %v", n, err)
	}
	c, err := Compile(n)
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "1=1" || len(c.Args) != 0 || len(c.Joins) != 0 {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestCompileJoinsAndArgs(t *testing.T) {
	n, err := Parse(`stakeholders.lastName:'Andersson' and (facilities.city~'Sunds*' or statuses.statusType!'CLOSED')`)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Compile(n)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Joins) != 3 {
		t.Fatalf("joins: %v", c.Joins)
	}
	for _, alias := range []string{"facilities f", "stakeholders s", "statuses st"} {
		found := false
		for _, j := range c.Joins {
			if strings.Contains(j, alias) {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing join %s in %v", alias, c.Joins)
		}
	}
	want := []any{"Andersson", "Sunds%", "CLOSED"}
	if !reflect.DeepEqual(c.Args, want) {
		t.Fatalf("args %v", c.Args)
	}
	if !strings.Contains(c.Where, "LIKE ? ESCAPE") || !strings.Contains(c.Where, "<> ?") {
		t.Fatalf("where %s", c.Where)
	}
}

func TestCompileRoleUsesJSONMembership(t *testing.T) {
	n, _ := Parse(`stakeholders.role:'APPLICANT'`)
	c, err := Compile(n)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.Where, "json_each") {
		t.Fatalf("where %s", c.Where)
	}
}

func TestCompileRejectsUnknownFieldAndKindMismatch(t *testing.T) {
	for _, src := range []string{
		`secret:'x'`,
		`id:'abc'`,
		`caseType:5`,
		`facilities.mainFacility>true`,
		`id~5`,
	} {
		n, err := Parse(src)
		if err != nil {
			t.Fatalf("%s: parse %v", src, err)
		}
		_, err = Compile(n)
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected field error, got %v", src, err)
		}
	}
}

func TestLikePatternEscapesSQLWildcards(t *testing.T) {
	if got := likePattern(`50%_off*`); got != `50\%\_off%` {
		t.Fatalf("got %s", got)
	}
}
