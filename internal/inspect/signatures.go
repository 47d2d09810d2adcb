package inspect

import (
	"fmt"
	"regexp"
)

type Category string

const (
	CategoryPathTraversal   Category = "path_traversal"
	CategoryScriptInjection Category = "script_injection"
	CategoryCodeExecution   Category = "code_execution"
	CategorySQLInjection    Category = "sql_injection"
	CategoryCustom          Category = "custom"
)

// Signature is one named pattern in a detection profile.
type Signature struct {
	Name     string
	Category Category
	Pattern  *regexp.Regexp
}

func sig(name string, category Category, expr string) Signature {
	return Signature{Name: name, Category: category, Pattern: regexp.MustCompile(expr)}
}

// urlSignatures are checked against request paths and query strings. SQL
// keywords are left out here so that paths like /api/tasks/update do not trip.
var urlSignatures = []Signature{
	sig("parent_directory", CategoryPathTraversal, `\.\.`),
	sig("script_tag", CategoryScriptInjection, `(?i)<script`),
	sig("javascript_uri", CategoryScriptInjection, `(?i)javascript:`),
	sig("data_uri", CategoryScriptInjection, `(?i)data:`),
	sig("event_handler", CategoryScriptInjection, `(?i)\bon(error|load|click|focus|blur|submit|change|mouse\w+|key\w+)\s*=`),
	sig("union_select", CategorySQLInjection, `(?i)union.*select`),
	sig("exec_call", CategoryCodeExecution, `(?i)exec\s*\(`),
	sig("eval_call", CategoryCodeExecution, `(?i)eval\s*\(`),
}

// sqlSignatures extend the URL profile for parsed body fields.
var sqlSignatures = []Signature{
	sig("sql_keyword", CategorySQLInjection, `(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|UNION|SCRIPT)\b`),
	sig("sql_delimiter", CategorySQLInjection, `(--|/\*|\*/|;|'|")`),
	sig("numeric_tautology", CategorySQLInjection, `(?i)\b(OR|AND)\s+\d+\s*=\s*\d+`),
	sig("string_tautology", CategorySQLInjection, `(?i)\b(OR|AND)\s+['"].*['"]\s*=\s*['"].*['"]`),
	sig("time_delay", CategorySQLInjection, `(?i)\b(WAITFOR|DELAY)\s+`),
	sig("timing_function", CategorySQLInjection, `(?i)\b(BENCHMARK|SLEEP)\s*\(`),
	sig("schema_introspection", CategorySQLInjection, `(?i)\b(INFORMATION_SCHEMA|SYS|MASTER|MSDB)\b`),
	sig("stored_procedure", CategorySQLInjection, `(?i)\b(XP_|SP_)\w+`),
	sig("file_access", CategorySQLInjection, `(?i)\b(LOAD_FILE|INTO\s+OUTFILE)\b`),
	sig("type_conversion", CategorySQLInjection, `(?i)\b(CONVERT|CAST)\s*\(`),
}

var agentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bot`),
	regexp.MustCompile(`(?i)crawler`),
	regexp.MustCompile(`(?i)scanner`),
	regexp.MustCompile(`(?i)sqlmap`),
	regexp.MustCompile(`(?i)nikto`),
	regexp.MustCompile(`(?i)nmap`),
}

// URLSignatures returns a copy of the built-in URL profile.
func URLSignatures() []Signature {
	return append([]Signature(nil), urlSignatures...)
}

// PayloadSignatures returns a copy of the built-in payload profile.
func PayloadSignatures() []Signature {
	out := make([]Signature, 0, len(urlSignatures)+len(sqlSignatures))
	out = append(out, urlSignatures...)
	return append(out, sqlSignatures...)
}

func compileCustom(exprs []string) ([]Signature, error) {
	out := make([]Signature, 0, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d %q: %v", ErrInvalidSignature, i, expr, err)
		}
		out = append(out, Signature{
			Name:     fmt.Sprintf("custom_%d", i),
			Category: CategoryCustom,
			Pattern:  re,
		})
	}
	return out, nil
}
