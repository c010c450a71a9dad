package entdriver

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const turnsTableName = "turns"

// textSize makes ent map a string column to an unbounded text type.
const textSize = 2147483647

var (
	// TurnsColumns holds the columns for the "turns" table.
	TurnsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "model", Type: field.TypeString},
		{Name: "path", Type: field.TypeString},
		{Name: "stream", Type: field.TypeBool, Default: false},
		{Name: "status", Type: field.TypeInt},
		{Name: "prompt", Type: field.TypeString, Size: textSize},
		{Name: "response", Type: field.TypeString, Size: textSize},
		{Name: "duration_ms", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
	}

	// TurnsTable holds the schema information for the "turns" table.
	TurnsTable = &schema.Table{
		Name:       turnsTableName,
		Columns:    TurnsColumns,
		PrimaryKey: []*schema.Column{TurnsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "turn_created_at",
				Unique:  false,
				Columns: []*schema.Column{TurnsColumns[8]},
			},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{TurnsTable}
)

func columnNames() []string {
	names := make([]string, len(TurnsColumns))
	for i, c := range TurnsColumns {
		names[i] = c.Name
	}
	return names
}
