package inspect

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_SuspiciousInputs(t *testing.T) {
	i := Default()

	tests := []struct {
		name     string
		input    string
		category Category
	}{
		{"path traversal", "../../etc/passwd", CategoryPathTraversal},
		{"windows traversal", `..\..\boot.ini`, CategoryPathTraversal},
		{"script tag", `<SCRIPT>alert(1)</SCRIPT>`, CategoryScriptInjection},
		{"javascript uri", "javascript:alert(document.cookie)", CategoryScriptInjection},
		{"data uri", "data:text/html;base64,PHNjcmlwdD4=", CategoryScriptInjection},
		{"inline handler", `<img src=x onerror=alert(1)>`, CategoryScriptInjection},
		{"keyword with comment", "admin' --", CategorySQLInjection},
		{"drop table", "Robert'); DROP TABLE Students;--", CategorySQLInjection},
		{"numeric tautology", "x OR 1=1", CategorySQLInjection},
		{"sleep", "sleep(5)", CategorySQLInjection},
		{"waitfor", "WAITFOR DELAY '0:0:5'", CategorySQLInjection},
		{"schema introspection", "information_schema", CategorySQLInjection},
		{"stored procedure", "xp_cmdshell", CategorySQLInjection},
		{"outfile", "into outfile", CategorySQLInjection},
		{"cast", "CAST(x AS int)", CategorySQLInjection},
		{"eval", "eval (payload)", CategoryCodeExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := i.Inspect(tt.input)
			require.True(t, m.Suspicious, "expected %q to be flagged", tt.input)
			assert.Equal(t, tt.category, m.Signature.Category)
		})
	}
}

func TestInspect_KeywordAndCommentAlwaysSuspicious(t *testing.T) {
	i := Default()
	keywords := []string{"SELECT", "insert", "Update", "DELETE", "drop", "CREATE", "alter", "EXEC", "union"}
	comments := []string{"--", "/*", "*/"}

	for _, kw := range keywords {
		for _, c := range comments {
			assert.True(t, i.Inspect("value "+kw+" x "+c).Suspicious, "%s %s", kw, c)
		}
	}
}

func TestInspect_CleanAlphanumeric(t *testing.T) {
	i := Default()
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rng := rand.New(rand.NewSource(42))

	for n := 0; n < 2000; n++ {
		b := make([]byte, 8+rng.Intn(9))
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(b)
		assert.Equal(t, Clean, i.Inspect(s), "false positive on %q", s)
	}

	for _, s := range []string{"Mathematics101", "Physics", "jdoe", "Grade10B", "2024"} {
		assert.False(t, i.Inspect(s).Suspicious, s)
	}
}

func TestInspectAll_ReportsEveryMatch(t *testing.T) {
	matches := Default().InspectAll("1 UNION SELECT password FROM users --")

	var names []string
	for _, m := range matches {
		names = append(names, m.Signature.Name)
	}
	assert.Contains(t, names, "union_select")
	assert.Contains(t, names, "sql_keyword")
	assert.Contains(t, names, "sql_delimiter")
}

func TestInspectURL(t *testing.T) {
	i := Default()

	m := i.InspectURL("/api/anything", "path=../../etc/passwd")
	require.True(t, m.Suspicious)
	assert.Equal(t, CategoryPathTraversal, m.Signature.Category)

	m = i.InspectURL("/api/anything", "q=%3Cscript%3Ealert(1)")
	require.True(t, m.Suspicious)
	assert.Equal(t, "script_tag", m.Signature.Name)

	assert.False(t, i.InspectURL("/api/tasks/update", "").Suspicious)
	assert.False(t, i.InspectURL("/api/courses", "select=name&sort=asc").Suspicious)
	assert.False(t, i.InspectURL("/api/grades", "student=O%27Brien").Suspicious)
}

func TestInspectFields(t *testing.T) {
	i := Default()

	fm, ok := i.InspectFields(map[string]any{
		"name":  "Robert'); DROP TABLE Students;--",
		"grade": 4.5,
	})
	require.True(t, ok)
	assert.Equal(t, "name", fm.Field)
	assert.Equal(t, CategorySQLInjection, fm.Signature.Category)

	fm, ok = i.InspectFields(map[string]any{
		"course": "Biology",
		"students": []any{
			map[string]any{"name": "Ana"},
			map[string]any{"name": "x OR 1=1"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "students.1.name", fm.Field)

	_, ok = i.InspectFields(map[string]any{"title": "Homework", "score": 10, "done": true})
	assert.False(t, ok)
}

func TestInspectFields_SortedOrder(t *testing.T) {
	fm, ok := Default().InspectFields(map[string]any{
		"zeta":  "<script>",
		"alpha": "1; drop",
	})
	require.True(t, ok)
	assert.Equal(t, "alpha", fm.Field)
}

func TestInspectUserAgent(t *testing.T) {
	i := Default()
	assert.True(t, i.InspectUserAgent("sqlmap/1.7"))
	assert.True(t, i.InspectUserAgent("Googlebot/2.1"))
	assert.False(t, i.InspectUserAgent("Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"))
}

func TestNew_ExtraSignatures(t *testing.T) {
	i, err := New(`(?i)\bnoshow\b`)
	require.NoError(t, err)

	m := i.Inspect("status NOSHOW")
	require.True(t, m.Suspicious)
	assert.Equal(t, CategoryCustom, m.Signature.Category)
	assert.Equal(t, "custom_0", m.Signature.Name)

	_, err = New(`(unclosed`)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMatchResultString(t *testing.T) {
	assert.Equal(t, "clean", Clean.String())
	assert.Equal(t, "path_traversal:parent_directory", Default().Inspect("..").String())
}
