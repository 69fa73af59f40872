package pgstore

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

//go:embed schema.sql.tmpl
var schemaTemplate string

var schema = template.Must(template.New("schema").Funcs(template.FuncMap{
	"genesis":     func() string { return hash.Genesis },
	"sqlType":     sqlType,
	"stateFormat": stateFormat,
	"hashArgs":    hashArgs,
}).Parse(schemaTemplate))

func sqlType(t content.ColumnType) string {
	switch t {
	case content.Integer:
		return "INTEGER"
	case content.SmallInt:
		return "SMALLINT"
	case content.DateColumn:
		return "DATE"
	default:
		return "TEXT"
	}
}

// stateFormat is the format() template of the state string; every hashed
// column renders through %s, which turns NULL into an empty string.
func stateFormat(c *content.Class) string {
	cols := c.HashedColumns()
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col.Name + "=%s"
	}
	return strings.Join(parts, " ")
}

func hashArgs(c *content.Class) string {
	cols := c.HashedColumns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return strings.Join(names, ", ")
}

// Schema renders the PostgreSQL DDL for every content table and the chain
// head table.
func Schema() (string, error) {
	var buf bytes.Buffer
	if err := schema.Execute(&buf, content.Classes()); err != nil {
		return "", err
	}
	return buf.String(), nil
}
