package filter

import (
	"fmt"
	"sort"
	"strings"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindInt
	kindBool
	kindRoles
)

type field struct {
	join   string // child table alias, empty for errand columns
	column string
	kind   fieldKind
}

var childJoins = map[string]string{
	"s":  "LEFT JOIN stakeholders s ON s.errand_id = e.id",
	"f":  "LEFT JOIN facilities f ON f.errand_id = e.id",
	"st": "LEFT JOIN statuses st ON st.errand_id = e.id",
	"d":  "LEFT JOIN decisions d ON d.errand_id = e.id",
	"n":  "LEFT JOIN notes n ON n.errand_id = e.id",
}

var fields = map[string]field{
	"id":                              {"", "e.id", kindInt},
	"version":                         {"", "e.version", kindInt},
	"errandNumber":                    {"", "e.errand_number", kindText},
	"caseType":                        {"", "e.case_type", kindText},
	"priority":                        {"", "e.priority", kindText},
	"phase":                           {"", "e.phase", kindText},
	"channel":                         {"", "e.channel", kindText},
	"externalCaseId":                  {"", "e.external_case_id", kindText},
	"description":                     {"", "e.description", kindText},
	"diaryNumber":                     {"", "e.diary_number", kindText},
	"processId":                       {"", "e.process_id", kindText},
	"created":                         {"", "e.created", kindText},
	"updated":                         {"", "e.updated", kindText},
	"createdBy":                       {"", "e.created_by", kindText},
	"updatedBy":                       {"", "e.updated_by", kindText},
	"createdByClient":                 {"", "e.created_by_client", kindText},
	"updatedByClient":                 {"", "e.updated_by_client", kindText},
	"stakeholders.type":               {"s", "s.type", kindText},
	"stakeholders.firstName":          {"s", "s.first_name", kindText},
	"stakeholders.lastName":           {"s", "s.last_name", kindText},
	"stakeholders.personId":           {"s", "s.person_id", kindText},
	"stakeholders.organizationName":   {"s", "s.organization_name", kindText},
	"stakeholders.organizationNumber": {"s", "s.organization_number", kindText},
	"stakeholders.role":               {"s", "s.roles_json", kindRoles},
	"facilities.facilityType":         {"f", "f.facility_type", kindText},
	"facilities.city":                 {"f", "f.city", kindText},
	"facilities.propertyDesignation":  {"f", "f.property_designation", kindText},
	"facilities.mainFacility":         {"f", "f.main_facility", kindBool},
	"statuses.statusType":             {"st", "st.status_type", kindText},
	"decisions.decisionType":          {"d", "d.decision_type", kindText},
	"decisions.decisionOutcome":       {"d", "d.decision_outcome", kindText},
	"notes.title":                     {"n", "n.title", kindText},
}

// Fields lists the predicate field names, sorted.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FieldError reports a reference to an unknown field or an operator the field does not support.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("filter: field %s: %s", e.Field, e.Msg)
}

// Compiled is a SQL condition over the errand alias "e" plus the child joins it needs.
// Joins are LEFT JOINs, so an errand appears once per matching child row.
type Compiled struct {
	Where string
	Args  []any
	Joins []string
}

// Compile translates n into SQL. A nil node compiles to an always-true condition.
func Compile(n Node) (Compiled, error) {
	c := &compiler{aliases: map[string]bool{}}
	where := "1=1"
	if n != nil {
		w, err := c.compile(n)
		if err != nil {
			return Compiled{}, err
		}
		where = w
	}
	aliases := make([]string, 0, len(c.aliases))
	for a := range c.aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	joins := make([]string, 0, len(aliases))
	for _, a := range aliases {
		joins = append(joins, childJoins[a])
	}
	return Compiled{Where: where, Args: c.args, Joins: joins}, nil
}

type compiler struct {
	args    []any
	aliases map[string]bool
}

func (c *compiler) compile(n Node) (string, error) {
	switch v := n.(type) {
	case And:
		l, err := c.compile(v.Left)
		if err != nil {
			return "", err
		}
		r, err := c.compile(v.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " AND " + r + ")", nil
	case Or:
		l, err := c.compile(v.Left)
		if err != nil {
			return "", err
		}
		r, err := c.compile(v.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " OR " + r + ")", nil
	case Not:
		inner, err := c.compile(v.Inner)
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	case Compare:
		return c.compare(v)
	default:
		return "", fmt.Errorf("filter: unsupported node %T", n)
	}
}

func (c *compiler) compare(cmp Compare) (string, error) {
	f, ok := fields[cmp.Field]
	if !ok {
		return "", &FieldError{Field: cmp.Field, Msg: "unknown field"}
	}
	if f.join != "" {
		c.aliases[f.join] = true
	}
	switch f.kind {
	case kindRoles:
		return c.roles(cmp, f)
	case kindBool:
		b, ok := cmp.Value.(bool)
		if !ok {
			return "", &FieldError{Field: cmp.Field, Msg: "expects true or false"}
		}
		if cmp.Op != OpEq && cmp.Op != OpNe {
			return "", &FieldError{Field: cmp.Field, Msg: "supports only ':' and '!'"}
		}
		v := 0
		if b {
			v = 1
		}
		c.args = append(c.args, v)
		return fmt.Sprintf("COALESCE(%s,0) %s ?", f.column, sqlOp(cmp.Op)), nil
	case kindInt:
		n, ok := cmp.Value.(int64)
		if !ok {
			return "", &FieldError{Field: cmp.Field, Msg: "expects a number"}
		}
		if cmp.Op == OpLike {
			return "", &FieldError{Field: cmp.Field, Msg: "does not support '~'"}
		}
		c.args = append(c.args, n)
		return fmt.Sprintf("%s %s ?", f.column, sqlOp(cmp.Op)), nil
	default:
		s, ok := cmp.Value.(string)
		if !ok {
			return "", &FieldError{Field: cmp.Field, Msg: "expects a quoted string"}
		}
		col := fmt.Sprintf("COALESCE(%s,'')", f.column)
		if cmp.Op == OpLike {
			c.args = append(c.args, likePattern(s))
			return col + ` LIKE ? ESCAPE '\'`, nil
		}
		c.args = append(c.args, s)
		return fmt.Sprintf("%s %s ?", col, sqlOp(cmp.Op)), nil
	}
}

func (c *compiler) roles(cmp Compare, f field) (string, error) {
	s, ok := cmp.Value.(string)
	if !ok {
		return "", &FieldError{Field: cmp.Field, Msg: "expects a quoted string"}
	}
	sub := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(COALESCE(%s,'[]')) r WHERE r.value = ?)", f.column)
	switch cmp.Op {
	case OpEq:
		c.args = append(c.args, s)
		return sub, nil
	case OpNe:
		c.args = append(c.args, s)
		return "NOT " + sub, nil
	case OpLike:
		c.args = append(c.args, likePattern(s))
		return fmt.Sprintf(`EXISTS (SELECT 1 FROM json_each(COALESCE(%s,'[]')) r WHERE r.value LIKE ? ESCAPE '\')`, f.column), nil
	default:
		return "", &FieldError{Field: cmp.Field, Msg: "supports only ':', '!' and '~'"}
	}
}

func sqlOp(op Op) string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpGe:
		return ">="
	case OpLe:
		return "<="
	default:
		return string(op)
	}
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return r.Replace(s)
}
