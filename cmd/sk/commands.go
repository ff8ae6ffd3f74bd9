package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"

	"github.com/and161185/streakkeeper/internal/api"
)

var errUnknownCommand = errors.New("unknown command")

// client is the slice of api.Client the commands use.
type client interface {
	Register(ctx context.Context, in *api.RegisterRequest, opts ...grpc.CallOption) (*api.RegisterResponse, error)
	Login(ctx context.Context, in *api.LoginRequest, opts ...grpc.CallOption) (*api.LoginResponse, error)
	GetProfile(ctx context.Context, in *api.GetProfileRequest, opts ...grpc.CallOption) (*api.Profile, error)
	GetShopCatalog(ctx context.Context, in *api.GetShopCatalogRequest, opts ...grpc.CallOption) (*api.GetShopCatalogResponse, error)
	GetOwnedItems(ctx context.Context, in *api.GetOwnedItemsRequest, opts ...grpc.CallOption) (*api.GetOwnedItemsResponse, error)
	PurchaseItem(ctx context.Context, in *api.PurchaseItemRequest, opts ...grpc.CallOption) (*api.PurchaseItemResponse, error)
	RepairStreak(ctx context.Context, in *api.RepairStreakRequest, opts ...grpc.CallOption) (*api.RepairStreakResponse, error)
}

var _ client = (*api.Client)(nil)

func needsAuth(cmd string) bool {
	switch cmd {
	case "register", "login":
		return false
	}
	return true
}

// runCommand executes one subcommand against c and writes its output to w.
func runCommand(ctx context.Context, c client, cmd string, args []string, w io.Writer) error {
	switch cmd {

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *u == "" || *p == "" {
			return errors.New("need -u and -p")
		}
		resp, err := c.Register(ctx, &api.RegisterRequest{Username: *u, Password: *p})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, resp.UserID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *u == "" || *p == "" {
			return errors.New("need -u and -p")
		}
		resp, err := c.Login(ctx, &api.LoginRequest{Username: *u, Password: *p})
		if err != nil {
			return err
		}
		exp := resp.ExpiresAt
		if exp.IsZero() {
			exp = tokenExpiry(resp.AccessToken)
		}
		if err := saveToken(tokenFile{AccessToken: resp.AccessToken, ExpiresAt: exp, UserID: resp.UserID}); err != nil {
			return err
		}
		fmt.Fprintf(w, "logged in as %s (token valid until %s)\n", resp.UserID, exp.UTC().Format(time.RFC3339))

	case "profile":
		p, err := c.GetProfile(ctx, &api.GetProfileRequest{})
		if err != nil {
			return err
		}
		printProfile(w, p)

	case "shop":
		fs := flag.NewFlagSet("shop", flag.ContinueOnError)
		all := fs.Bool("all", false, "include disabled items")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return err
		}
		resp, err := c.GetShopCatalog(ctx, &api.GetShopCatalogRequest{IncludeDisabled: *all})
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(w, resp.Items)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCOST\tTYPE\tCATEGORY\t")
		for _, it := range resp.Items {
			name := it.Name
			if it.IsDisabled {
				name += " (disabled)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n", it.ID, name, it.CostInGems, it.Type, it.Category)
		}
		return tw.Flush()

	case "inventory":
		resp, err := c.GetOwnedItems(ctx, &api.GetOwnedItemsRequest{})
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			fmt.Fprintln(w, "no items")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ITEM\tQTY\tSINCE\t")
		for _, it := range resp.Items {
			fmt.Fprintf(tw, "%s\t%d\t%s\t\n", it.ShopItemID, it.Quantity, it.PurchasedAt.UTC().Format(time.DateOnly))
		}
		return tw.Flush()

	case "buy":
		fs := flag.NewFlagSet("buy", flag.ContinueOnError)
		item := fs.String("item", "", "shop item id")
		n := fs.Int64("n", 1, "quantity")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *item == "" {
			return errors.New("need -item")
		}
		resp, err := c.PurchaseItem(ctx, &api.PurchaseItemRequest{ItemID: *item, Quantity: *n})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s; now own %d, %d gems left\n", resp.Message, resp.Quantity, resp.GemsBalance)

	case "repair":
		resp, err := c.RepairStreak(ctx, &api.RepairStreakRequest{})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "streak restored to %d\n", resp.RestoredStreak)

	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}
	return nil
}

// tokenExpiry reads exp from an unverified JWT, defaulting to 15 minutes.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(tok, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(15 * time.Minute)
}

func printProfile(w io.Writer, p *api.Profile) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "streak:\t%d (longest %d)\n", p.CurrentStreak, p.LongestStreak)
	fmt.Fprintf(tw, "last active:\t%s\n", day(p.LastActivityDate))
	fmt.Fprintf(tw, "gems:\t%d\n", p.GemsBalance)
	fmt.Fprintf(tw, "xp:\t%d total, %d this week\n", p.XPTotal, p.XPWeekly)
	fmt.Fprintf(tw, "freezes:\t%d\n", p.StreakFreezes)
	if p.IsStreakProtected {
		fmt.Fprintln(tw, "protected:\ta freeze saved your streak today")
	}
	if p.LostStreakValue > 0 && p.RepairDeadline != nil {
		fmt.Fprintf(tw, "lost streak:\t%d, repairable until %s\n", p.LostStreakValue, p.RepairDeadline.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func day(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.DateOnly)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
