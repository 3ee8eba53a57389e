package index

import (
	"github.com/Aman-CERP/relindex/internal/config"
	"github.com/Aman-CERP/relindex/internal/store"
)

// NoFileNames is the filename value indexed for a record without files.
const NoFileNames = "''"

// ReleasesSchema is the fixed releases index schema: four searchable
// fields and the category id.
var ReleasesSchema = store.Schema{
	{Name: "name", Type: store.FieldString},
	{Name: "searchname", Type: store.FieldString},
	{Name: "fromname", Type: store.FieldString},
	{Name: "filename", Type: store.FieldString},
	{Name: "categories_id", Type: store.FieldInteger},
}

// PredbSchema is the fixed predb index schema.
var PredbSchema = store.Schema{
	{Name: "title", Type: store.FieldString},
	{Name: "filename", Type: store.FieldString},
	{Name: "source", Type: store.FieldString},
}

// SchemaFor returns the schema of a configured index name.
func SchemaFor(indexes config.IndexesConfig, name string) (store.Schema, bool) {
	switch name {
	case indexes.Releases:
		return ReleasesSchema, true
	case indexes.Predb:
		return PredbSchema, true
	default:
		return nil, false
	}
}

// ColumnsFor returns the searchable fields of a configured index name.
func ColumnsFor(indexes config.IndexesConfig, name string) []string {
	sc, ok := SchemaFor(indexes, name)
	if !ok {
		return nil
	}
	return sc.StringFields()
}
