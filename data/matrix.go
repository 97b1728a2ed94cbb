package data

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"gonum.org/v1/gonum/mat"
)

// MatrixToRecord converts a matrix into a record with one float64 column per
// matrix column. Names default to V1, V2, ...
func MatrixToRecord(mem memory.Allocator, m mat.Matrix, names []string) (arrow.Record, error) {
	n, p := m.Dims()
	if names != nil && len(names) != p {
		return nil, fmt.Errorf("%w: %d names for %d columns", ErrSchemaMismatch, len(names), p)
	}

	fields := make([]arrow.Field, p)
	for j := range fields {
		fields[j] = arrow.Field{Name: columnName(names, j), Type: arrow.PrimitiveTypes.Float64}
	}

	builder := array.NewRecordBuilder(mem, arrow.NewSchema(fields, nil))
	defer builder.Release()

	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, m)
		builder.Field(j).(*array.Float64Builder).AppendValues(col, nil)
	}
	return builder.NewRecord(), nil
}

// RecordToMatrix converts every column of a record into a dense matrix and
// returns it with the column names.
func RecordToMatrix(record arrow.Record) (*mat.Dense, []string, error) {
	if record == nil {
		return nil, nil, ErrNilRecord
	}
	cols := make([]int, record.NumCols())
	for j := range cols {
		cols[j] = j
	}
	return columnsToMatrix(record, cols)
}

// columnsToMatrix gathers the given columns of a record into a dense matrix.
func columnsToMatrix(record arrow.Record, cols []int) (*mat.Dense, []string, error) {
	n := int(record.NumRows())
	if n == 0 || len(cols) == 0 {
		return nil, nil, fmt.Errorf("%w: %d rows, %d columns", ErrNoPredictors, n, len(cols))
	}
	m := mat.NewDense(n, len(cols), nil)
	names := make([]string, len(cols))
	for k, j := range cols {
		values, err := columnValues(record, j)
		if err != nil {
			return nil, nil, err
		}
		m.SetCol(k, values)
		names[k] = record.ColumnName(j)
	}
	return m, names, nil
}

// columnValues reads a numeric column as float64.
func columnValues(record arrow.Record, j int) ([]float64, error) {
	col := record.Column(j)
	name := record.ColumnName(j)
	if col.NullN() > 0 {
		return nil, fmt.Errorf("%w: %s has %d nulls", ErrNullValue, name, col.NullN())
	}

	out := make([]float64, col.Len())
	switch a := col.(type) {
	case *array.Float64:
		copy(out, a.Float64Values())
	case *array.Float32:
		for i, v := range a.Float32Values() {
			out[i] = float64(v)
		}
	case *array.Int64:
		for i, v := range a.Int64Values() {
			out[i] = float64(v)
		}
	case *array.Int32:
		for i, v := range a.Int32Values() {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedType, name, col.DataType())
	}
	return out, nil
}

func columnName(names []string, j int) string {
	if j < len(names) && names[j] != "" {
		return names[j]
	}
	return fmt.Sprintf("V%d", j+1)
}
