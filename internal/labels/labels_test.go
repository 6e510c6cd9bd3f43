package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_ID(t *testing.T) {
	tests := []struct {
		name  string
		table *Table
		label string
		want  string
	}{
		{"exact", Priority, "Alto", "1559"},
		{"alias", Priority, "Critico/Emergencial", "1557"},
		{"case insensitive", Systems, "  sacflow ", "771"},
		{"accented case insensitive", Departments, "manutenção", "1349"},
		{"miss", Category, "Fornecedor", ""},
		{"empty", Branches, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.table.ID(tt.label))
		})
	}
}

func TestTable_LabelUsesCanonicalAlias(t *testing.T) {
	assert.Equal(t, "Crítico/Emergencial", Priority.Label("1557"))
	assert.Equal(t, "Segurança", Departments.Label("1377"))
	assert.Equal(t, "Cliente PJ", Category.Label("1571"))
}

func TestTable_LabelMissReturnsRawID(t *testing.T) {
	assert.Equal(t, "9999", Systems.Label("9999"))
	assert.Equal(t, "", Systems.Label(""))
}

func TestTable_RoundTrip(t *testing.T) {
	for _, table := range []*Table{Priority, Systems, Category, Branches, Departments} {
		for id, label := range table.reverse {
			assert.Equal(t, id, table.ID(label), "%s: %s", table.Name(), label)
		}
	}
}
