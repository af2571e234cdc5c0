// Command cascadectl is the operator and participant CLI for a cascade
// ledger server.
//
//	cascadectl [global flags] <command> [args]
//
// Writes are signed with the key given by -key or -keyfile (password from
// CASCADE_KEY_PASSWORD). Against a server in header auth mode, -owner can
// be used instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/client"
	"github.com/alanyoungcy/cascade/internal/domain"
)

const usage = `usage: cascadectl [flags] <command> [args]

commands:
  markets [-category c] [-status s] [-parent id]   list markets
  market <id>                                      show a market and its odds
  children <id>                                    list child markets
  create -q question -o a,b[,c] -expires 24h [-category c] [-parent id]
  bet <market> <outcome> <amount>                  stake on an outcome
  estimate <market> <outcome> <amount>             preview a payout
  resolve <market> <outcome>                       declare the winner (admin)
  claim <market>                                   settle a winning bet
  bets [owner]                                     list an owner's bets
  market-bets <id>                                 list bets on a market
  balance [owner]                                  show a balance
  deposit <account> <amount>                       faucet credit (admin)
  leaderboard [limit]                              rank owners by profit
  admin                                            show the ledger admin
  keygen [-out file]                               create a signing key

flags:
`

type globals struct {
	server  string
	key     string
	keyFile string
	owner   string
	asJSON  bool
	timeout time.Duration
}

func main() {
	_ = godotenv.Load()

	var g globals
	fs := flag.NewFlagSet("cascadectl", flag.ExitOnError)
	fs.StringVar(&g.server, "server", envOr("CASCADE_SERVER", "http://localhost:8080"), "cascade server URL")
	fs.StringVar(&g.key, "key", os.Getenv("CASCADE_PRIVATE_KEY"), "hex private key used to sign requests")
	fs.StringVar(&g.keyFile, "keyfile", os.Getenv("CASCADE_KEY_FILE"), "encrypted key file used to sign requests")
	fs.StringVar(&g.owner, "owner", os.Getenv("CASCADE_OWNER"), "caller identity for servers in header auth mode")
	fs.BoolVar(&g.asJSON, "json", false, "print raw JSON")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, g, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, g globals, cmd string, args []string) error {
	if cmd == "keygen" {
		return keygen(args)
	}

	c, err := newClient(g)
	if err != nil {
		return err
	}
	out := printer{json: g.asJSON}

	switch cmd {
	case "markets":
		fs := flag.NewFlagSet("markets", flag.ExitOnError)
		category := fs.String("category", "", "filter by category")
		status := fs.String("status", "", "filter by status")
		parent := fs.String("parent", "", "filter by parent market id")
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		_ = fs.Parse(args)
		q := client.MarketQuery{
			Category: domain.MarketCategory(*category),
			Status:   domain.MarketStatus(*status),
			Limit:    *limit,
			Offset:   *offset,
		}
		if *parent != "" {
			q.ParentID = parent
		}
		page, err := c.ListMarkets(ctx, q)
		if err != nil {
			return err
		}
		return out.markets(page.Markets, page.Total)

	case "market":
		if err := need(args, 1, "market <id>"); err != nil {
			return err
		}
		m, err := c.Market(ctx, args[0])
		if err != nil {
			return err
		}
		return out.market(m)

	case "children":
		if err := need(args, 1, "children <id>"); err != nil {
			return err
		}
		markets, err := c.Children(ctx, args[0])
		if err != nil {
			return err
		}
		return out.markets(markets, len(markets))

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		question := fs.String("q", "", "question")
		outcomes := fs.String("o", "yes,no", "comma-separated outcome names")
		expires := fs.Duration("expires", 24*time.Hour, "time until expiry")
		category := fs.String("category", string(domain.CategoryOther), "market category")
		parent := fs.String("parent", "", "parent market id")
		_ = fs.Parse(args)
		op := domain.CreateMarket{
			Question:     *question,
			OutcomeNames: splitList(*outcomes),
			ExpiryTime:   uint64(time.Now().Add(*expires).UnixMicro()),
			Category:     domain.MarketCategory(*category),
		}
		if *parent != "" {
			op.ParentID = parent
		}
		r, err := c.CreateMarket(ctx, op)
		if err != nil {
			return err
		}
		return out.receipt(r)

	case "bet":
		if err := need(args, 3, "bet <market> <outcome> <amount>"); err != nil {
			return err
		}
		amount, err := parseAmount(args[2])
		if err != nil {
			return err
		}
		r, err := c.PlaceBet(ctx, args[0], args[1], amount)
		if err != nil {
			return err
		}
		return out.receipt(r)

	case "estimate":
		if err := need(args, 3, "estimate <market> <outcome> <amount>"); err != nil {
			return err
		}
		amount, err := parseAmount(args[2])
		if err != nil {
			return err
		}
		est, err := c.Estimate(ctx, args[0], args[1], amount)
		if err != nil {
			return err
		}
		return out.estimate(est)

	case "resolve":
		if err := need(args, 2, "resolve <market> <outcome>"); err != nil {
			return err
		}
		r, err := c.Resolve(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return out.receipt(r)

	case "claim":
		if err := need(args, 1, "claim <market>"); err != nil {
			return err
		}
		r, err := c.Claim(ctx, args[0])
		if err != nil {
			return err
		}
		return out.receipt(r)

	case "bets":
		owner, err := ownerArg(c, args)
		if err != nil {
			return err
		}
		bets, err := c.OwnerBets(ctx, owner)
		if err != nil {
			return err
		}
		return out.bets(bets)

	case "market-bets":
		if err := need(args, 1, "market-bets <id>"); err != nil {
			return err
		}
		bets, err := c.MarketBets(ctx, args[0])
		if err != nil {
			return err
		}
		return out.bets(bets)

	case "balance":
		owner, err := ownerArg(c, args)
		if err != nil {
			return err
		}
		bal, err := c.Balance(ctx, owner)
		if err != nil {
			return err
		}
		return out.kv(map[string]any{"account": owner, "balance": bal})

	case "deposit":
		if err := need(args, 2, "deposit <account> <amount>"); err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		bal, err := c.Deposit(ctx, domain.NormalizeOwner(args[0]), amount)
		if err != nil {
			return err
		}
		return out.kv(map[string]any{"account": domain.NormalizeOwner(args[0]), "balance": bal})

	case "leaderboard":
		limit := 10
		if len(args) > 0 {
			if limit, err = strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("limit %q is not a number", args[0])
			}
		}
		entries, err := c.Leaderboard(ctx, limit)
		if err != nil {
			return err
		}
		return out.leaderboard(entries)

	case "admin":
		admin, err := c.Admin(ctx)
		if err != nil {
			return err
		}
		return out.kv(map[string]any{"admin": admin})

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newClient(g globals) (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(g.timeout)}
	if g.key != "" || g.keyFile != "" {
		s, err := auth.LoadSigner(auth.KeySource{
			PrivateKey: g.key,
			KeyFile:    g.keyFile,
			Password:   os.Getenv("CASCADE_KEY_PASSWORD"),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSigner(s))
	}
	if g.owner != "" {
		opts = append(opts, client.WithOwner(g.owner))
	}
	return client.New(g.server, opts...), nil
}

// keygen prints a fresh key, or writes it encrypted when -out is given.
func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outPath := fs.String("out", "", "write an encrypted key file (password from CASCADE_KEY_PASSWORD)")
	_ = fs.Parse(args)

	s, err := auth.GenerateSigner()
	if err != nil {
		return err
	}
	if *outPath == "" {
		fmt.Println(labelStyle.Render("address     ") + s.Address())
		fmt.Println(labelStyle.Render("private key ") + s.PrivateKeyHex())
		return nil
	}
	data, err := auth.EncryptKey(s, os.Getenv("CASCADE_KEY_PASSWORD"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Println(labelStyle.Render("address  ") + s.Address())
	fmt.Println(labelStyle.Render("key file ") + *outPath)
	return nil
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: cascadectl %s", form)
	}
	return nil
}

func ownerArg(c *client.Client, args []string) (domain.Owner, error) {
	if len(args) > 0 {
		return domain.NormalizeOwner(args[0]), nil
	}
	if owner := c.Caller(); owner != "" {
		return owner, nil
	}
	return "", errors.New("no owner given and no key or -owner configured")
}

func parseAmount(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not an unsigned integer", s)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
