package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tradexec/pkg/tradexec"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradexec-cli [-server URL] <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                     Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health                      Show tradexec-server status\n")
		fmt.Fprintf(os.Stderr, "  submit                      Submit a trade signal\n")
		fmt.Fprintf(os.Stderr, "  cancel <order-id>           Cancel a working order\n")
		fmt.Fprintf(os.Stderr, "  orders [status] [symbol]    List orders\n")
		fmt.Fprintf(os.Stderr, "  portfolio                   Show cash and positions\n")
		fmt.Fprintf(os.Stderr, "  trades [date]               Show applied fills\n")
		fmt.Fprintf(os.Stderr, "  inconsistencies             Show rejected venue events\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	server := flag.String("server", envOr("TRADEXEC_SERVER", "http://localhost:3004"), "server base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	client := tradexec.NewClient(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("tradexec-cli %s\n", version)
	case "health":
		err = runHealth(ctx, client)
	case "submit":
		err = runSubmit(ctx, client, args[1:])
	case "cancel":
		err = runCancel(ctx, client, args[1:])
	case "orders":
		err = runOrders(ctx, client, args[1:])
	case "portfolio":
		err = runPortfolio(ctx, client)
	case "trades":
		err = runTrades(ctx, client, args[1:])
	case "inconsistencies":
		err = runInconsistencies(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runHealth(ctx context.Context, client *tradexec.Client) error {
	h, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\nservice: %s\nvenue: %s\nuptime: %s\n", h.Status, h.Service, h.Venue, h.Uptime)
	return nil
}

func runSubmit(ctx context.Context, client *tradexec.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	symbol := fs.String("symbol", "", "instrument symbol (required)")
	side := fs.String("side", "buy", "buy or sell")
	qty := fs.String("qty", "", "quantity (required)")
	limit := fs.String("limit", "", "limit price (omit for a market order)")
	source := fs.String("source", "cli", "signal source tag")
	key := fs.String("key", "", "idempotency key (defaults to a timestamped key)")
	fs.Parse(args)

	if *symbol == "" || *qty == "" {
		return fmt.Errorf("submit requires -symbol and -qty")
	}
	q, err := decimal.NewFromString(*qty)
	if err != nil {
		return fmt.Errorf("invalid qty: %w", err)
	}

	sig := tradexec.Signal{
		Symbol:         *symbol,
		Side:           *side,
		Qty:            q,
		Source:         *source,
		IdempotencyKey: *key,
	}
	if *limit != "" {
		p, err := decimal.NewFromString(*limit)
		if err != nil {
			return fmt.Errorf("invalid limit price: %w", err)
		}
		sig.LimitPrice = &p
	}
	if sig.IdempotencyKey == "" {
		sig.IdempotencyKey = fmt.Sprintf("cli-%s-%d", *symbol, time.Now().UnixNano())
	}

	ack, err := client.SubmitSignal(ctx, sig)
	if err != nil {
		return err
	}
	fmt.Printf("order %s accepted (%s)\n", ack.OrderID, ack.Status)
	return nil
}

func runCancel(ctx context.Context, client *tradexec.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("cancel requires an order ID")
	}
	order, err := client.CancelOrder(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("order %s is now %s (filled %s of %s)\n", order.ID, order.Status, order.FilledQty, order.Qty)
	return nil
}

func runOrders(ctx context.Context, client *tradexec.Client, args []string) error {
	status, symbol := "", ""
	if len(args) > 0 {
		status = args[0]
	}
	if len(args) > 1 {
		symbol = args[1]
	}

	orders, err := client.ListOrders(ctx, status, symbol)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tFILLED\tAVG PRICE\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Symbol, o.Side, o.Type, o.Qty, o.FilledQty, o.FilledAvgPrice, o.Status)
	}
	return w.Flush()
}

func runPortfolio(ctx context.Context, client *tradexec.Client) error {
	pf, err := client.Portfolio(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("cash: %s\n", pf.Cash)
	if len(pf.Positions) == 0 {
		fmt.Println("no open positions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tQTY\tAVG COST\tREALIZED PNL")
	for _, p := range pf.Positions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Symbol, p.Qty, p.AvgCost, p.RealizedPnL)
	}
	return w.Flush()
}

func runTrades(ctx context.Context, client *tradexec.Client, args []string) error {
	date := ""
	if len(args) > 0 {
		date = args[0]
	}
	trades, err := client.Trades(ctx, date)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tSEQ\tSYMBOL\tSIDE\tQTY\tPRICE\tTIME")
	for _, tr := range trades.Trades {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			tr.OrderID, tr.Seq, tr.Symbol, tr.Side, tr.Qty, tr.Price, tr.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func runInconsistencies(ctx context.Context, client *tradexec.Client) error {
	incs, err := client.Inconsistencies(ctx)
	if err != nil {
		return err
	}
	if len(incs) == 0 {
		fmt.Println("no inconsistencies")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tSEQ\tEVENT\tREASON\tTIME")
	for _, inc := range incs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			inc.OrderID, inc.Seq, inc.EventType, inc.Reason, inc.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}
