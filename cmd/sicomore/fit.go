package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/data"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
)

var (
	fitOut       string
	fitRemote    string
	fitToken     string
	fitMatrix    string
	fitSelection string
	fitTimeout   time.Duration

	fitCmd = &cobra.Command{
		Use:   "fit <request.arrow>",
		Short: "Fit a request stored in an Arrow IPC file",
		Long: `Fit reads the first record of an Arrow IPC file as a fit request, runs it
locally (or on a server with --remote) and prints the significance table.`,
		Args: cobra.ExactArgs(1),
		RunE: runFit,
	}
)

func init() {
	fitCmd.Flags().StringVarP(&fitOut, "out", "o", "", "write the result record to this Arrow IPC file")
	fitCmd.Flags().StringVar(&fitRemote, "remote", "", "fit on the Arrow server at this address")
	fitCmd.Flags().StringVar(&fitToken, "token", "", "authentication token for --remote")
	fitCmd.Flags().StringVar(&fitMatrix, "matrix", "", "print the interaction matrix between two datasets, e.g. 0,1")
	fitCmd.Flags().StringVar(&fitSelection, "selection", "", "override the selection method")
	fitCmd.Flags().DurationVar(&fitTimeout, "timeout", 0, "abort the fit after this long")
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	base, err := cfg.Fit.EngineConfig()
	if err != nil {
		return err
	}
	if fitSelection != "" {
		if base.Selection, err = engine.ParseSelection(fitSelection); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if fitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fitTimeout)
		defer cancel()
	}

	codec := data.NewCodec()
	records, err := codec.ReadIPCFile(args[0])
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	req, err := data.DecodeFitRequest(records[0], base)
	if err != nil {
		return err
	}
	if fitSelection != "" {
		req.Config.Selection = base.Selection
	}

	if fitRemote != "" {
		return fitRemotely(ctx, cmd.OutOrStdout(), req)
	}

	eng := engine.New(cfg.Server.Workers, logger)
	defer eng.Close()

	res, err := eng.Sicomore(ctx, req.Y, req.Datasets, req.Config)
	if err != nil {
		return err
	}
	if res.SignificanceErr != nil {
		logger.Warn("significance unavailable", zap.Error(res.SignificanceErr))
	}

	if fitOut != "" {
		if err := writeResult(codec, fitOut, res); err != nil {
			return err
		}
		logger.Info("result written", zap.String("path", fitOut))
	}

	w := cmd.OutOrStdout()
	printStructures(w, res)
	printTerms(w, res.Intercept, res.Lambda, termRows(res))

	if fitMatrix != "" {
		return printMatrix(w, res, fitMatrix)
	}
	return nil
}

func fitRemotely(ctx context.Context, w io.Writer, req *data.FitRequest) error {
	client, err := api.Dial(ctx, fitRemote, fitToken)
	if err != nil {
		return err
	}
	defer client.Close()

	table, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}
	printTerms(w, table.Intercept, table.Lambda, table.Rows)
	return nil
}

func writeResult(codec *data.Codec, path string, res *engine.Result) error {
	record, err := data.ResultToRecord(codec.Allocator(), res)
	if err != nil {
		return err
	}
	defer record.Release()
	return codec.WriteIPCFile(path, []arrow.Record{record})
}

func termRows(res *engine.Result) []data.ResultRow {
	rows := make([]data.ResultRow, len(res.Terms))
	for i, t := range res.Terms {
		rows[i] = data.ResultRow{
			Term:         t.Name,
			Kind:         string(t.Kind),
			Coefficient:  t.Coefficient,
			PValue:       t.PValue,
			Significance: t.Significance,
		}
	}
	return rows
}

func printStructures(w io.Writer, res *engine.Result) {
	for i, s := range res.Structures {
		names, err := res.GroupNames(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s: %d groups", s.Dataset, len(names))
		if s.Level > 0 {
			fmt.Fprintf(w, " (level %d)", s.Level)
		}
		fmt.Fprintln(w)
		for g, members := range names {
			fmt.Fprintf(w, "  G%d: %s\n", g+1, strings.Join(members, ", "))
		}
	}
	fmt.Fprintln(w)
}

func printTerms(w io.Writer, intercept, lambda float64, rows []data.ResultRow) {
	fmt.Fprintf(w, "intercept %.6g, lambda %.6g\n", intercept, lambda)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TERM\tKIND\tCOEFFICIENT\tP-VALUE\tSIGNIFICANCE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.6g\t%.4g\t%.4f\n", r.Term, r.Kind, r.Coefficient, r.PValue, r.Significance)
	}
	_ = tw.Flush()
}

func printMatrix(w io.Writer, res *engine.Result, pair string) error {
	parts := strings.Split(pair, ",")
	if len(parts) != 2 {
		return fmt.Errorf("--matrix wants two dataset indices, got %q", pair)
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil {
		return fmt.Errorf("--matrix wants two dataset indices, got %q", pair)
	}
	m, err := res.InteractionMatrix(a, b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\ninteractions %s x %s\n", res.Structures[a].Dataset, res.Structures[b].Dataset)
	fmt.Fprintf(w, "%v\n", mat.Formatted(m, mat.Squeeze()))
	return nil
}
