package data

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// defaultDataset names predictor columns without dataset metadata.
const defaultDataset = "X1"

// FitRequest is a decoded fit request.
type FitRequest struct {
	Response string
	Y        []float64
	Datasets []engine.Dataset
	Config   engine.Config
}

// EncodeFitRequest converts a fit request into a record. The response comes
// first, followed by every dataset's columns tagged with their dataset name.
// Options are stored in the schema metadata.
func EncodeFitRequest(mem memory.Allocator, req *FitRequest) (arrow.Record, error) {
	response := req.Response
	if response == "" {
		response = DefaultResponse
	}

	fields := []arrow.Field{{Name: response, Type: arrow.PrimitiveTypes.Float64}}
	var columns [][]float64
	columns = append(columns, req.Y)

	for i, ds := range req.Datasets {
		if ds.X == nil {
			return nil, fmt.Errorf("%w: dataset %d has no matrix", ErrNoPredictors, i)
		}
		name := ds.Name
		if name == "" {
			name = fmt.Sprintf("X%d", i+1)
		}
		n, p := ds.X.Dims()
		if n != len(req.Y) {
			return nil, fmt.Errorf("%w: dataset %s has %d rows, response has %d", ErrSchemaMismatch, name, n, len(req.Y))
		}
		md := arrow.NewMetadata([]string{MetaDataset}, []string{name})
		for j := 0; j < p; j++ {
			fields = append(fields, arrow.Field{
				Name:     name + "." + columnName(ds.VariableNames, j),
				Type:     arrow.PrimitiveTypes.Float64,
				Metadata: md,
			})
			columns = append(columns, mat.Col(nil, j, ds.X))
		}
	}

	md := optionsMetadata(response, req.Config)
	builder := array.NewRecordBuilder(mem, arrow.NewSchema(fields, &md))
	defer builder.Release()

	for j, col := range columns {
		builder.Field(j).(*array.Float64Builder).AppendValues(col, nil)
	}
	return builder.NewRecord(), nil
}

func optionsMetadata(response string, cfg engine.Config) arrow.Metadata {
	keys := []string{
		MetaResponse, MetaSelection, MetaChoice, MetaCompression,
		MetaDistance, MetaLinkage, MetaStandardize, MetaFolds, MetaSeed,
		MetaNLambda, MetaMaxLevels, MetaMainEffects,
	}
	values := []string{
		response,
		string(cfg.Selection),
		string(cfg.Choice),
		string(cfg.Compression),
		string(cfg.Hierarchy.Distance),
		string(cfg.Hierarchy.Linkage),
		strconv.FormatBool(cfg.Hierarchy.Standardize),
		strconv.Itoa(cfg.CV.Folds),
		strconv.FormatInt(cfg.CV.Seed, 10),
		strconv.Itoa(cfg.CV.NLambda),
		strconv.Itoa(cfg.MaxLevels),
		strconv.FormatBool(cfg.MainEffects),
	}
	return arrow.NewMetadata(keys, values)
}

// DecodeFitRequest reads a fit request from a record. Options present in the
// schema metadata override base.
func DecodeFitRequest(record arrow.Record, base engine.Config) (*FitRequest, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	schema := record.Schema()
	md := schema.Metadata()

	cfg, err := applyOptions(md, base)
	if err != nil {
		return nil, err
	}

	response := DefaultResponse
	if v, ok := md.GetValue(MetaResponse); ok && v != "" {
		response = v
	}

	respIdx := -1
	var order []string
	byDataset := make(map[string][]int)
	for j, f := range schema.Fields() {
		if f.Name == response && respIdx < 0 {
			respIdx = j
			continue
		}
		name := defaultDataset
		if v, ok := f.Metadata.GetValue(MetaDataset); ok && v != "" {
			name = v
		}
		if _, seen := byDataset[name]; !seen {
			order = append(order, name)
		}
		byDataset[name] = append(byDataset[name], j)
	}
	if respIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingResponse, response)
	}
	if len(order) == 0 {
		return nil, ErrNoPredictors
	}

	y, err := columnValues(record, respIdx)
	if err != nil {
		return nil, err
	}

	req := &FitRequest{Response: response, Y: y, Config: cfg}
	for _, name := range order {
		X, names, err := columnsToMatrix(record, byDataset[name])
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		req.Datasets = append(req.Datasets, engine.Dataset{
			Name:          name,
			X:             X,
			VariableNames: trimPrefix(names, name+"."),
		})
	}
	return req, nil
}

func applyOptions(md arrow.Metadata, cfg engine.Config) (engine.Config, error) {
	var err error
	get := func(key string) (string, bool) {
		v, ok := md.GetValue(key)
		return v, ok && v != ""
	}

	if v, ok := get(MetaSelection); ok {
		if cfg.Selection, err = engine.ParseSelection(v); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	if v, ok := get(MetaChoice); ok {
		if cfg.Choice, err = penalized.ParseChoice(v); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	if v, ok := get(MetaCompression); ok {
		if cfg.Compression, err = engine.ParseCompression(v); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	if v, ok := get(MetaDistance); ok {
		if cfg.Hierarchy.Distance, err = hierarchy.ParseDistance(v); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	if v, ok := get(MetaLinkage); ok {
		if cfg.Hierarchy.Linkage, err = hierarchy.ParseLinkage(v); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{MetaFolds, &cfg.CV.Folds},
		{MetaNLambda, &cfg.CV.NLambda},
		{MetaMaxLevels, &cfg.MaxLevels},
	}
	for _, opt := range ints {
		if v, ok := get(opt.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return cfg, fmt.Errorf("%w: %s=%q", ErrInvalidOption, opt.key, v)
			}
			*opt.dst = n
		}
	}
	if v, ok := get(MetaSeed); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q", ErrInvalidOption, MetaSeed, v)
		}
		cfg.CV.Seed = seed
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{MetaStandardize, &cfg.Hierarchy.Standardize},
		{MetaMainEffects, &cfg.MainEffects},
	}
	for _, o := range bools {
		v, ok := get(o.key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q", ErrInvalidOption, o.key, v)
		}
		*o.dst = b
	}
	return cfg, nil
}

func trimPrefix(names []string, prefix string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		if trimmed := strings.TrimPrefix(name, prefix); trimmed != "" {
			name = trimmed
		}
		out[i] = name
	}
	return out
}
