// Package datatype maps column specifications to warehouse types and compares
// declared column shapes against the ones the warehouse reports.
package datatype

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
)

// Timestamp mappings accepted by BaseType. The warehouse resolves a bare
// TIMESTAMP column to one of these depending on the TIMESTAMP_TYPE_MAPPING parameter.
const (
	TimestampMappingLTZ = "TIMESTAMP_LTZ"
	TimestampMappingNTZ = "TIMESTAMP_NTZ"
)

// typesWithSize lists the declared types whose size is emitted in DDL.
var typesWithSize = []string{
	"number", "decimal", "numeric",
	"char", "character", "varchar", "string", "text", "binary",
}

// Matches TYPE(length) and TYPE(precision,scale).
var typeWithLengthPattern = regexp.MustCompile(`(?i)^(\w+)\(([0-9,]+)\)$`)

var requiredMetadata = []string{"kind", "type", "null?", "default"}

// Definition is one column's type, length, nullability and default, either as
// declared in configuration or as observed in the warehouse catalog.
type Definition struct {
	Type     string
	Length   string // "" when unspecified; "p,s" for numeric precision and scale
	Nullable bool
	Default  *string
}

// TypeSupportsSize reports whether a declared size is emitted for the type.
func TypeSupportsSize(typ string) bool {
	return slices.Contains(typesWithSize, strings.ToLower(typ))
}

// FromColumnSpec builds the desired definition of a configured column.
// The declared size is kept as is; no default length is substituted.
func FromColumnSpec(col models.ColumnSpec) Definition {
	return Definition{
		Type:     col.Type,
		Length:   col.Size,
		Nullable: col.Nullable,
		Default:  col.Default,
	}
}

// FromWarehouseMetadata parses one DESCRIBE TABLE row.
// Required keys are kind, type, null? and default; kind must be COLUMN.
func FromWarehouseMetadata(meta map[string]any) (Definition, error) {
	var missing []string
	for _, key := range requiredMetadata {
		if _, ok := meta[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Definition{}, fmt.Errorf("%w: Missing metadata: %s", apperrors.ErrInvalidSpec, strings.Join(missing, ", "))
	}

	if metaString(meta["kind"]) != "COLUMN" {
		return Definition{}, fmt.Errorf("%w: Metadata does not contains column definition", apperrors.ErrInvalidSpec)
	}

	def := Definition{
		Type:     metaString(meta["type"]),
		Nullable: metaString(meta["null?"]) == "Y",
	}
	if m := typeWithLengthPattern.FindStringSubmatch(def.Type); m != nil {
		def.Type = m[1]
		def.Length = m[2]
	}
	if meta["default"] != nil {
		d := StripDefaultQuoting(metaString(meta["default"]))
		def.Default = &d
	}
	return def, nil
}

// StripDefaultQuoting turns a catalog-reported string default such as 'it''s'
// back into the literal value it's. Anything that is not a quoted literal,
// such as a number or an expression, is returned unchanged.
func StripDefaultQuoting(text string) string {
	if len(text) < 2 || !strings.HasPrefix(text, "'") || !strings.HasSuffix(text, "'") {
		return text
	}
	return strings.ReplaceAll(text[1:len(text)-1], "''", "'")
}

func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// DefaultLength returns the length the warehouse applies when none is declared,
// or "" when the type has none.
func (d Definition) DefaultLength() string {
	switch strings.ToUpper(d.Type) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "BYTEINT", "NUMBER", "DECIMAL", "NUMERIC":
		return "38,0"
	case "VARCHAR", "STRING", "TEXT":
		return "16777216"
	case "CHAR", "CHARACTER":
		return "1"
	case "TIME", "DATETIME", "TIMESTAMP", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ", "TIMESTAMP_TZ":
		return "9"
	case "BINARY", "VARBINARY":
		return "8388608"
	default:
		return ""
	}
}

// BaseType resolves the type to the warehouse's canonical name.
// timestampMapping decides what a bare TIMESTAMP becomes and must be
// TimestampMappingLTZ or TimestampMappingNTZ.
func (d Definition) BaseType(timestampMapping string) (string, error) {
	if timestampMapping != TimestampMappingLTZ && timestampMapping != TimestampMappingNTZ {
		return "", fmt.Errorf("%w: invalid timestamp type mapping provided: %q", apperrors.ErrInvalidArgument, timestampMapping)
	}

	switch typ := strings.ToUpper(d.Type); typ {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "BYTEINT", "NUMBER", "DECIMAL", "NUMERIC":
		return "NUMBER", nil
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return "FLOAT", nil
	case "DATETIME":
		return "TIMESTAMP_NTZ", nil
	case "TIMESTAMP":
		return timestampMapping, nil
	case "BOOLEAN", "DATE", "TIME", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ", "TIMESTAMP_TZ", "VARIANT", "ARRAY", "OBJECT":
		return typ, nil
	case "BINARY", "VARBINARY":
		return "BINARY", nil
	default:
		return "VARCHAR", nil
	}
}

// effectiveLength is the length the warehouse ends up with for a declared column.
func (d Definition) effectiveLength() string {
	if d.Length != "" && TypeSupportsSize(d.Type) {
		return d.Length
	}
	return ""
}

// Matches reports whether an observed column is compatible with this declared one:
// same base type, same nullability, and either the same length or no declared
// length with the observed one equal to the type's default.
func (d Definition) Matches(observed Definition, timestampMapping string) (bool, error) {
	declaredBase, err := d.BaseType(timestampMapping)
	if err != nil {
		return false, err
	}
	observedBase, err := observed.BaseType(timestampMapping)
	if err != nil {
		return false, err
	}
	if declaredBase != observedBase || d.Nullable != observed.Nullable {
		return false, nil
	}

	length := d.effectiveLength()
	if length == observed.Length {
		return true, nil
	}
	return length == "" && observed.Length == d.DefaultLength(), nil
}

// SameAs reports whether two observed columns have identical resolved type,
// length and nullability. Used before linking columns with a foreign key.
func (d Definition) SameAs(other Definition, timestampMapping string) (bool, error) {
	base, err := d.BaseType(timestampMapping)
	if err != nil {
		return false, err
	}
	otherBase, err := other.BaseType(timestampMapping)
	if err != nil {
		return false, err
	}
	return base == otherBase && d.Length == other.Length && d.Nullable == other.Nullable, nil
}

// SQLDefinition renders TYPE[(length)] NULL|NOT NULL for messages and DDL.
func (d Definition) SQLDefinition() string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(d.Type))
	if d.Length != "" {
		sb.WriteString("(" + d.Length + ")")
	}
	if d.Nullable {
		sb.WriteString(" NULL")
	} else {
		sb.WriteString(" NOT NULL")
	}
	return sb.String()
}
