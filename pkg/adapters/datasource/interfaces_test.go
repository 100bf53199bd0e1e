package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRow_String(t *testing.T) {
	row := Row{"name": "id", "raw": []byte("NUMBER(38,0)"), "count": 3, "default": nil}

	assert.Equal(t, "id", row.String("name"))
	assert.Equal(t, "NUMBER(38,0)", row.String("raw"))
	assert.Equal(t, "3", row.String("count"))
	assert.Equal(t, "", row.String("default"))
	assert.Equal(t, "", row.String("missing"))
}

func TestStrings(t *testing.T) {
	rows := []Row{{"column_name": "id"}, {"column_name": "name"}}

	assert.Equal(t, []string{"id", "name"}, Strings(rows, "column_name"))
	assert.Empty(t, Strings(nil, "column_name"))
}
