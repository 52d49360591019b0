// saturn-orders is the operator CLI for a running saturn-trader instance. It
// talks to the HTTP API; it never touches the ledger directly.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"saturn/internal/httpapi"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: saturn-orders <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list                 List all order rows\n")
		fmt.Fprintf(os.Stderr, "  get <order-id>       Show one order\n")
		fmt.Fprintf(os.Stderr, "  submit [options]     Submit a new order\n")
		fmt.Fprintf(os.Stderr, "  modify <order-id>    Change order prices\n")
		fmt.Fprintf(os.Stderr, "  cancel <order-id>    Cancel an order\n")
		fmt.Fprintf(os.Stderr, "  txns                 List transactions\n")
		fmt.Fprintf(os.Stderr, "  txn <txn-id>         Show one transaction with valuation\n")
		fmt.Fprintf(os.Stderr, "  tpsl <txn-id>        Adjust take-profit / stop-loss\n")
		fmt.Fprintf(os.Stderr, "  refresh              Trigger a reconciliation pass\n")
		fmt.Fprintf(os.Stderr, "  export               Write the parquet audit snapshot\n")
		fmt.Fprintf(os.Stderr, "  health               Check server status\n")
		fmt.Fprintf(os.Stderr, "\nThe API address comes from SATURN_API (default http://127.0.0.1:8080).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	c := &client{base: "http://127.0.0.1:8080"}
	if v := os.Getenv("SATURN_API"); v != "" {
		c.base = v
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "list":
		err = c.listOrders()
	case "get":
		err = c.getOrder(args)
	case "submit":
		err = c.submit(args)
	case "modify":
		err = c.modify(args)
	case "cancel":
		err = c.cancel(args)
	case "txns":
		err = c.listTransactions()
	case "txn":
		err = c.getTransaction(args)
	case "tpsl":
		err = c.tpsl(args)
	case "refresh":
		err = c.refresh(args)
	case "export":
		err = c.export(args)
	case "health":
		err = c.health()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
}

// do sends a request and decodes the JSON response into out (skipped when out
// is nil). Non-2xx responses surface the server's error message.
func (c *client) do(method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) listOrders() error {
	var resp httpapi.OrdersResponse
	if err := c.do("GET", "/api/orders", nil, &resp); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tLIMIT\tSTOP\tSTATUS\tBROKER ID")
	for _, o := range resp.Orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Symbol, o.Side, o.Type, o.Qty,
			decStr(o.LimitPrice), decStr(o.StopPrice), o.Status, o.BrokerOrderID)
	}
	return w.Flush()
}

func (c *client) getOrder(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: saturn-orders get <order-id>")
	}
	var o httpapi.OrderJSON
	if err := c.do("GET", "/api/orders/"+args[0], nil, &o); err != nil {
		return err
	}
	return printJSON(o)
}

func (c *client) submit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	symbol := fs.String("symbol", "", "ticker symbol (required)")
	side := fs.String("side", "buy", "buy or sell")
	typ := fs.String("type", "limit", "market, limit, stop or stop_limit")
	qty := fs.String("qty", "", "quantity (required)")
	limit := fs.String("limit", "", "limit price")
	stop := fs.String("stop", "", "stop price")
	tp := fs.String("tp", "", "take-profit target")
	sl := fs.String("sl", "", "stop-loss target")
	fs.Parse(args)

	if *symbol == "" || *qty == "" {
		return fmt.Errorf("submit requires -symbol and -qty")
	}
	req := httpapi.SubmitOrderRequest{Symbol: *symbol, Side: *side, Type: *typ}
	var err error
	if req.Qty, err = parseDec(*qty, "qty"); err != nil {
		return err
	}
	if req.LimitPrice, err = parseDecPtr(*limit, "limit"); err != nil {
		return err
	}
	if req.StopPrice, err = parseDecPtr(*stop, "stop"); err != nil {
		return err
	}
	if req.TakeProfit, err = parseDecPtr(*tp, "tp"); err != nil {
		return err
	}
	if req.StopLoss, err = parseDecPtr(*sl, "sl"); err != nil {
		return err
	}

	var o httpapi.OrderJSON
	if err := c.do("POST", "/api/orders", req, &o); err != nil {
		return err
	}
	return printJSON(o)
}

func (c *client) modify(args []string) error {
	fs := flag.NewFlagSet("modify", flag.ExitOnError)
	limit := fs.String("limit", "", "new limit price")
	stop := fs.String("stop", "", "new stop price")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: saturn-orders modify [-limit P] [-stop P] <order-id>")
	}

	var req httpapi.ModifyOrderRequest
	var err error
	if req.LimitPrice, err = parseDecPtr(*limit, "limit"); err != nil {
		return err
	}
	if req.StopPrice, err = parseDecPtr(*stop, "stop"); err != nil {
		return err
	}

	var o httpapi.OrderJSON
	if err := c.do("PATCH", "/api/orders/"+fs.Arg(0), req, &o); err != nil {
		return err
	}
	return printJSON(o)
}

func (c *client) cancel(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: saturn-orders cancel <order-id>")
	}
	if err := c.do("DELETE", "/api/orders/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Println("cancel requested")
	return nil
}

func (c *client) listTransactions() error {
	var resp httpapi.TransactionsResponse
	if err := c.do("GET", "/api/transactions", nil, &resp); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tQTY\tTP\tSL\tSTATUS\tOPEN PRICE")
	for _, t := range resp.Transactions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Symbol, t.Qty,
			decStr(t.TakeProfit), decStr(t.StopLoss), t.Status, decStr(t.OpenPrice))
	}
	return w.Flush()
}

func (c *client) getTransaction(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: saturn-orders txn <txn-id>")
	}
	var d httpapi.TransactionDetailJSON
	if err := c.do("GET", "/api/transactions/"+args[0], nil, &d); err != nil {
		return err
	}
	return printJSON(d)
}

func (c *client) tpsl(args []string) error {
	fs := flag.NewFlagSet("tpsl", flag.ExitOnError)
	tp := fs.String("tp", "", "take-profit target")
	sl := fs.String("sl", "", "stop-loss target")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: saturn-orders tpsl [-tp P] [-sl P] <txn-id>")
	}

	var req httpapi.TPSLRequest
	var err error
	if req.TakeProfit, err = parseDecPtr(*tp, "tp"); err != nil {
		return err
	}
	if req.StopLoss, err = parseDecPtr(*sl, "sl"); err != nil {
		return err
	}

	var t httpapi.TransactionJSON
	if err := c.do("POST", "/api/transactions/"+fs.Arg(0)+"/tpsl", req, &t); err != nil {
		return err
	}
	return printJSON(t)
}

func (c *client) refresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	heuristic := fs.Bool("heuristic", false, "link unmapped rows by comment")
	fetchAll := fs.Bool("all", true, "paginate the full order history")
	fs.Parse(args)

	path := fmt.Sprintf("/api/refresh?heuristic=%t&fetch_all=%t", *heuristic, *fetchAll)
	if err := c.do("POST", path, nil, nil); err != nil {
		return err
	}
	fmt.Println("reconciliation pass complete")
	return nil
}

func (c *client) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	date := fs.String("date", "", "snapshot date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	path := "/api/export"
	if *date != "" {
		path += "?date=" + *date
	}
	var resp httpapi.ExportResponse
	if err := c.do("POST", path, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("audit snapshot written to %s\n", resp.Dir)
	return nil
}

func (c *client) health() error {
	var h httpapi.HealthResponse
	if err := c.do("GET", "/api/health", nil, &h); err != nil {
		return err
	}
	fmt.Printf("status=%s broker=%s\n", h.Status, h.Broker)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func parseDec(s, name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid -%s value %q", name, s)
	}
	return d, nil
}

func parseDecPtr(s, name string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDec(s, name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
