package query

import (
	"fmt"
	"strings"
)

type sqlBuilder struct {
	args []any
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

// bind adds value and returns its placeholder.
func (b *sqlBuilder) bind(value any) string {
	return b.placeholder(b.addArg(value))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching value anywhere.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}
