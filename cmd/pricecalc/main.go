// Command pricecalc is a terminal client for the pricing calculator API.
//
//	pricecalc calc -name "Widget" -qty 10 -price 100 -gst 18 -mrp 150
//	pricecalc bulk products.json
//	pricecalc rates
//	pricecalc history -limit 10
//	pricecalc delete <id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/client"
	"github.com/pricewise/api/internal/config"
	"github.com/pricewise/api/internal/pricing"
	"github.com/pricewise/api/internal/session"
)

const usage = `usage: pricecalc <command> [flags]

commands:
  calc     calculate one product and save it to history
  bulk     calculate every product in a JSON file
  rates    list the GST presets
  history  list recent calculations
  delete   delete a calculation from history
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadDev()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg.Client.APIURL, client.WithTimeout(cfg.Client.Timeout))

	if err := run(ctx, c, logger, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		var verr *session.ValidationError
		var apiErr *client.APIError
		switch {
		case errors.As(err, &verr):
			fmt.Fprintln(os.Stderr, verr.Message)
		case errors.As(err, &apiErr) && apiErr.Detail != "":
			fmt.Fprintln(os.Stderr, apiErr.Detail)
		default:
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, logger *slog.Logger, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "calc":
		return runCalc(ctx, c, logger, args, out)
	case "bulk":
		return runBulk(ctx, c, args, out)
	case "rates":
		return runRates(ctx, c, out)
	case "history":
		return runHistory(ctx, c, args, out)
	case "delete":
		return runDelete(ctx, c, args, out)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runCalc(ctx context.Context, c *client.Client, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("calc", flag.ExitOnError)
	name := fs.String("name", "", "Product name")
	qty := fs.String("qty", "", "Quantity")
	price := fs.String("price", "", "Unit price before tax")
	gst := fs.String("gst", session.DefaultGSTPercentage, "GST percentage (0-100)")
	mrp := fs.String("mrp", "", "Sales price (MRP) per unit")
	fs.Parse(args)

	s := session.New(c, logger)
	defer s.Close()

	if err := s.Mount(ctx); err != nil {
		logger.Warn("startup load incomplete", "error", err)
	}

	fields := []struct{ name, value string }{
		{session.FieldProductName, *name},
		{session.FieldQuantity, *qty},
		{session.FieldUnitPriceBeforeTax, *price},
		{session.FieldGSTPercentage, *gst},
		{session.FieldSalesPriceMRPPerUnit, *mrp},
	}
	for _, f := range fields {
		if err := s.SetField(f.name, f.value); err != nil {
			return err
		}
	}

	outcome, err := s.Submit(ctx)
	if err != nil {
		return err
	}
	if err := outcome.Err(); err != nil {
		logger.Warn("history sync incomplete", "error", err)
	}

	st := s.Snapshot()
	printResult(out, *st.Result)
	if history := st.DisplayedHistory(); len(history) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Recent calculations:")
		printHistory(out, history)
	}
	return nil
}

func runBulk(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("bulk needs exactly one JSON file argument")
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	var forms []struct {
		ProductName          jsonText `json:"product_name"`
		Quantity             jsonText `json:"quantity"`
		UnitPriceBeforeTax   jsonText `json:"unit_price_before_tax"`
		GSTPercentage        jsonText `json:"gst_percentage"`
		SalesPriceMRPPerUnit jsonText `json:"sales_price_mrp_per_unit"`
	}
	if err := json.Unmarshal(raw, &forms); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	inputs := make([]pricing.Input, 0, len(forms))
	for i, f := range forms {
		in, err := session.Validate(session.Form{
			ProductName:          string(f.ProductName),
			Quantity:             string(f.Quantity),
			UnitPriceBeforeTax:   string(f.UnitPriceBeforeTax),
			GSTPercentage:        string(f.GSTPercentage),
			SalesPriceMRPPerUnit: string(f.SalesPriceMRPPerUnit),
		})
		if err != nil {
			return fmt.Errorf("product %d: %w", i+1, err)
		}
		inputs = append(inputs, in)
	}

	bulk, err := c.CalculateBulk(ctx, inputs)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tTAX\tUNIT (POST-TAX)\tSUBTOTAL (POST-TAX)\tMARGIN\tMARKUP")
	for _, r := range bulk.Calculations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ProductName, r.TaxName,
			session.FormatINR(r.UnitPriceAfterTax),
			session.FormatINR(r.SubtotalAfterTax),
			session.FormatPercent(r.MarginPercentage),
			formatMarkup(r.MarkupPercentage),
		)
	}
	fmt.Fprintf(tw, "\n%d product(s)\n", bulk.TotalProducts)
	return tw.Flush()
}

func runRates(ctx context.Context, c *client.Client, out io.Writer) error {
	catalog, err := c.GSTRates(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RATE\tDESCRIPTION")
	for _, r := range catalog.CommonRates {
		fmt.Fprintf(tw, "%s%%\t%s\n", r.Rate, r.Description)
	}
	if catalog.CustomAllowed {
		fmt.Fprintf(tw, "\ncustom rates up to %s%% allowed\n", catalog.MaxRate)
	}
	return tw.Flush()
}

func runHistory(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", session.HistoryFetchLimit, "Number of entries")
	fs.Parse(args)

	entries, err := c.ListCalculations(ctx, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no saved calculations")
		return nil
	}
	printHistory(out, entries)
	return nil
}

func runDelete(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("delete needs exactly one id argument")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	if err := c.DeleteCalculation(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(out, "deleted", id)
	return nil
}

func printResult(out io.Writer, r pricing.Result) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Product\t%s\n", r.ProductName)
	fmt.Fprintf(tw, "Quantity\t%s\n", r.Quantity)
	fmt.Fprintf(tw, "Tax\t%s\n", r.TaxName)
	fmt.Fprintf(tw, "Unit price (pre-tax)\t%s\n", session.FormatINR(r.UnitPriceBeforeTax))
	fmt.Fprintf(tw, "Unit price (post-tax)\t%s\n", session.FormatINR(r.UnitPriceAfterTax))
	fmt.Fprintf(tw, "Subtotal (pre-tax)\t%s\n", session.FormatINR(r.SubtotalBeforeTax))
	fmt.Fprintf(tw, "Subtotal (post-tax)\t%s\n", session.FormatINR(r.SubtotalAfterTax))
	fmt.Fprintf(tw, "MRP per unit\t%s\n", session.FormatINR(r.SalesPriceMRPPerUnit))
	fmt.Fprintf(tw, "Margin\t%s\n", session.FormatPercent(r.MarginPercentage))
	fmt.Fprintf(tw, "Markup\t%s\n", formatMarkup(r.MarkupPercentage))
	tw.Flush()
}

func printHistory(out io.Writer, entries []pricing.HistoryEntry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SAVED\tPRODUCT\tQTY\tSUBTOTAL (POST-TAX)\tMARGIN\tID")
	for _, e := range entries {
		r := e.CalculationResult
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SavedAt.Local().Format("2006-01-02 15:04"),
			r.ProductName, r.Quantity,
			session.FormatINR(r.SubtotalAfterTax),
			session.FormatPercent(r.MarginPercentage),
			e.ID,
		)
	}
	tw.Flush()
}

func formatMarkup(m decimal.NullDecimal) string {
	if !m.Valid {
		return "n/a"
	}
	return session.FormatPercent(m.Decimal)
}

// jsonText accepts a JSON string or number and keeps its text, so product
// files can be validated exactly like typed input.
type jsonText string

func (t *jsonText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = jsonText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = jsonText(n.String())
	return nil
}
