package data

import (
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/Sicomore-Engine/engine"
)

// ResultRow is one decoded row of a result record.
type ResultRow struct {
	Term         string   `json:"term"`
	Kind         string   `json:"kind"`
	DatasetA     string   `json:"dataset_a"`
	GroupA       int      `json:"group_a"`
	VariablesA   []string `json:"variables_a"`
	DatasetB     string   `json:"dataset_b,omitempty"`
	GroupB       int      `json:"group_b"`
	VariablesB   []string `json:"variables_b,omitempty"`
	Coefficient  float64  `json:"coefficient"`
	PValue       float64  `json:"p_value"`
	Significance float64  `json:"significance"`
}

// ResultTable is a decoded result record.
type ResultTable struct {
	Selection string      `json:"selection"`
	Intercept float64     `json:"intercept"`
	Lambda    float64     `json:"lambda"`
	N         int         `json:"n"`
	Rows      []ResultRow `json:"rows"`
}

// ResultToRecord converts a fit result into a record with one row per term.
func ResultToRecord(mem memory.Allocator, res *engine.Result) (arrow.Record, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil result", ErrNilRecord)
	}

	md := arrow.NewMetadata(
		[]string{MetaSelection, MetaChoice, MetaIntercept, MetaLambda, MetaN},
		[]string{
			string(res.Selection),
			string(res.Choice),
			strconv.FormatFloat(res.Intercept, 'g', -1, 64),
			strconv.FormatFloat(res.Lambda, 'g', -1, 64),
			strconv.Itoa(res.N),
		},
	)
	builder := array.NewRecordBuilder(mem, resultSchema(&md))
	defer builder.Release()

	termB := builder.Field(0).(*array.StringBuilder)
	kindB := builder.Field(1).(*array.StringBuilder)
	datasetAB := builder.Field(2).(*array.StringBuilder)
	groupAB := builder.Field(3).(*array.Int32Builder)
	varsAB := builder.Field(4).(*array.ListBuilder)
	datasetBB := builder.Field(5).(*array.StringBuilder)
	groupBB := builder.Field(6).(*array.Int32Builder)
	varsBB := builder.Field(7).(*array.ListBuilder)
	coefB := builder.Field(8).(*array.Float64Builder)
	pB := builder.Field(9).(*array.Float64Builder)
	sigB := builder.Field(10).(*array.Float64Builder)

	for _, t := range res.Terms {
		namesA, err := res.GroupNames(t.DatasetA)
		if err != nil {
			return nil, err
		}
		termB.Append(t.Name)
		kindB.Append(string(t.Kind))
		datasetAB.Append(res.Structures[t.DatasetA].Dataset)
		groupAB.Append(int32(t.GroupA))
		appendStrings(varsAB, namesA[t.GroupA])

		if t.Kind == engine.Interaction {
			namesB, err := res.GroupNames(t.DatasetB)
			if err != nil {
				return nil, err
			}
			datasetBB.Append(res.Structures[t.DatasetB].Dataset)
			groupBB.Append(int32(t.GroupB))
			appendStrings(varsBB, namesB[t.GroupB])
		} else {
			datasetBB.AppendNull()
			groupBB.AppendNull()
			varsBB.AppendNull()
		}

		coefB.Append(t.Coefficient)
		pB.Append(t.PValue)
		sigB.Append(t.Significance)
	}
	return builder.NewRecord(), nil
}

func appendStrings(b *array.ListBuilder, values []string) {
	b.Append(true)
	vb := b.ValueBuilder().(*array.StringBuilder)
	for _, v := range values {
		vb.Append(v)
	}
}

// DecodeResult reads a result record back into rows.
func DecodeResult(record arrow.Record) (*ResultTable, error) {
	if err := ValidateSchema(record, ResultSchema()); err != nil {
		return nil, err
	}

	md := record.Schema().Metadata()
	table := &ResultTable{}
	table.Selection, _ = md.GetValue(MetaSelection)
	table.Intercept = metaFloat(md, MetaIntercept)
	table.Lambda = metaFloat(md, MetaLambda)
	if v, ok := md.GetValue(MetaN); ok {
		table.N, _ = strconv.Atoi(v)
	}

	term := record.Column(0).(*array.String)
	kind := record.Column(1).(*array.String)
	datasetA := record.Column(2).(*array.String)
	groupA := record.Column(3).(*array.Int32)
	varsA := record.Column(4).(*array.List)
	datasetB := record.Column(5).(*array.String)
	groupB := record.Column(6).(*array.Int32)
	varsB := record.Column(7).(*array.List)
	coef := record.Column(8).(*array.Float64)
	pval := record.Column(9).(*array.Float64)
	sig := record.Column(10).(*array.Float64)

	table.Rows = make([]ResultRow, record.NumRows())
	for i := range table.Rows {
		row := ResultRow{
			Term:         term.Value(i),
			Kind:         kind.Value(i),
			DatasetA:     datasetA.Value(i),
			GroupA:       int(groupA.Value(i)),
			VariablesA:   listStrings(varsA, i),
			GroupB:       -1,
			Coefficient:  coef.Value(i),
			PValue:       pval.Value(i),
			Significance: sig.Value(i),
		}
		if !datasetB.IsNull(i) {
			row.DatasetB = datasetB.Value(i)
			row.GroupB = int(groupB.Value(i))
			row.VariablesB = listStrings(varsB, i)
		}
		table.Rows[i] = row
	}
	return table, nil
}

func listStrings(list *array.List, i int) []string {
	if list.IsNull(i) {
		return nil
	}
	start, end := list.ValueOffsets(i)
	values := list.ListValues().(*array.String)
	out := make([]string, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, values.Value(int(j)))
	}
	return out
}

func metaFloat(md arrow.Metadata, key string) float64 {
	v, ok := md.GetValue(key)
	if !ok {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
