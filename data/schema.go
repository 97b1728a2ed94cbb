package data

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Metadata keys of fit requests and results
const (
	MetaResponse    = "sicomore.response"
	MetaDataset     = "sicomore.dataset"
	MetaSelection   = "sicomore.selection"
	MetaChoice      = "sicomore.choice"
	MetaCompression = "sicomore.compression"
	MetaDistance    = "sicomore.distance"
	MetaLinkage     = "sicomore.linkage"
	MetaStandardize = "sicomore.standardize"
	MetaFolds       = "sicomore.folds"
	MetaSeed        = "sicomore.seed"
	MetaNLambda     = "sicomore.nlambda"
	MetaMaxLevels   = "sicomore.max_levels"
	MetaMainEffects = "sicomore.main_effects"
	MetaIntercept   = "sicomore.intercept"
	MetaLambda      = "sicomore.lambda"
	MetaN           = "sicomore.n"
)

// DefaultResponse is the response column name when the schema names none.
const DefaultResponse = "y"

// Common errors for Arrow conversion
var (
	ErrNilRecord       = errors.New("record is nil")
	ErrNoRecords       = errors.New("no records in IPC data")
	ErrMissingResponse = errors.New("response column not found")
	ErrNoPredictors    = errors.New("no predictor columns")
	ErrUnsupportedType = errors.New("unsupported column type")
	ErrNullValue       = errors.New("column contains nulls")
	ErrInvalidOption   = errors.New("invalid option in schema metadata")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

// ResultSchema returns the Arrow schema of a fit result.
//
// Fields:
//   - term: string - Term name
//   - kind: string - "main" or "interaction"
//   - dataset_a: string - Dataset of the first group
//   - group_a: int32 - Group index within dataset_a
//   - variables_a: list<string> - Variables of the first group
//   - dataset_b: string (nullable) - Dataset of the second group
//   - group_b: int32 (nullable) - Group index within dataset_b
//   - variables_b: list<string> (nullable) - Variables of the second group
//   - coefficient: float64 - Lasso coefficient
//   - p_value: float64 - Least squares refit p-value
//   - significance: float64 - 1 - p_value for selected terms, 0 otherwise
func ResultSchema() *arrow.Schema {
	return resultSchema(nil)
}

func resultSchema(md *arrow.Metadata) *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "term", Type: arrow.BinaryTypes.String},
			{Name: "kind", Type: arrow.BinaryTypes.String},
			{Name: "dataset_a", Type: arrow.BinaryTypes.String},
			{Name: "group_a", Type: arrow.PrimitiveTypes.Int32},
			{Name: "variables_a", Type: arrow.ListOf(arrow.BinaryTypes.String)},
			{Name: "dataset_b", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "group_b", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			{Name: "variables_b", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
			{Name: "coefficient", Type: arrow.PrimitiveTypes.Float64},
			{Name: "p_value", Type: arrow.PrimitiveTypes.Float64},
			{Name: "significance", Type: arrow.PrimitiveTypes.Float64},
		},
		md,
	)
}

// ValidateSchema checks that a record has the expected field names and types.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return ErrNilRecord
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("%w: got %d fields, expected %d",
			ErrSchemaMismatch, actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("%w: field %d is %s, expected %s",
				ErrSchemaMismatch, i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("%w: field %s is %s, expected %s",
				ErrSchemaMismatch, actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
