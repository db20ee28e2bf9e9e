// cartctl is a CLI tool for exercising cart and checkout flows against a
// running checkout service. Each command performs a single operation, making
// it composable for scripts.
//
// Examples:
//
//	cartctl add ebook --browser b-1
//	cartctl discount SAVE10 --browser b-1
//	cartctl qty ebook 3 --browser b-1
//	cartctl quote --browser b-1
//	cartctl payment --browser b-1 --processor paypal
//	cartctl checkout --browser b-1 --email buyer@example.com --token tok_visa --processor stripe
//	cartctl capture pur_123
//	cartctl refund pur_123 --amount 500
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// Global flags (apply to all commands)
var (
	serverURL string
	quiet     bool
	noColor   bool
	verbose   bool
	buyer     buyerFlags
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal("%v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Cart and checkout flow test tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor || os.Getenv("NO_COLOR") != "" {
				disableColors()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&serverURL, "server", envOr("CHECKOUT_URL", "http://localhost:8080"), "Checkout service base URL")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Quiet mode - only output the key result")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose - show full request/response")
	pf.StringVar(&buyer.user, "user", "", "Signed-in user id")
	pf.StringVar(&buyer.browser, "browser", "", "Browser guid for guest carts")
	pf.StringVar(&buyer.country, "country", "", "Buyer country code (drives PPP pricing)")

	root.AddCommand(
		newGetCmd(),
		newAddCmd(),
		newQtyCmd(),
		newRemoveCmd(),
		newClearCmd(),
		newQuoteCmd(),
		newDiscountCmd(),
		newOffersCmd(),
		newPaymentCmd(),
		newCheckoutCmd(),
		newCaptureCmd(),
		newRefundCmd(),
	)
	return root
}

// === cart ===

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodGet, "/cart", nil)
			if err != nil {
				return fmt.Errorf("getting cart: %w", err)
			}
			items, _ := resp["items"].([]any)
			if quiet {
				fmt.Println(len(items))
				return nil
			}
			printSuccess("Cart retrieved")
			printItems(items)
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var (
		optionID   string
		quantity   int
		recurrence string
		referrer   string
		tip        int64
	)
	cmd := &cobra.Command{
		Use:   "add <permalink>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"permalink":  args[0],
				"option_id":  optionID,
				"quantity":   quantity,
				"recurrence": recurrence,
				"referrer":   referrer,
				"tip_cents":  tip,
			}
			resp, err := doRequest(http.MethodPost, "/cart/items", body)
			if err != nil {
				return fmt.Errorf("adding item: %w", err)
			}
			items, _ := resp["items"].([]any)
			if quiet {
				fmt.Println(len(items))
				return nil
			}
			printSuccess("Added %s", args[0])
			printItems(items)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&optionID, "option", "", "Variant option id")
	f.IntVar(&quantity, "qty", 1, "Quantity")
	f.StringVar(&recurrence, "recurrence", "", "Subscription recurrence (monthly, yearly, ...)")
	f.StringVar(&referrer, "referrer", "", "Affiliate referrer")
	f.Int64Var(&tip, "tip", 0, "Tip in cents")
	return cmd
}

func newQtyCmd() *cobra.Command {
	var optionID string
	cmd := &cobra.Command{
		Use:   "qty <permalink> <quantity>",
		Short: "Change the quantity of a cart item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			path := "/cart/items/" + url.PathEscape(args[0])
			if optionID != "" {
				path += "?option_id=" + url.QueryEscape(optionID)
			}
			resp, err := doRequest(http.MethodPatch, path, map[string]any{"quantity": qty})
			if err != nil {
				return fmt.Errorf("updating quantity: %w", err)
			}
			items, _ := resp["items"].([]any)
			printSuccess("Updated %s", args[0])
			printItems(items)
			return nil
		},
	}
	cmd.Flags().StringVar(&optionID, "option", "", "Variant option id")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var optionID string
	cmd := &cobra.Command{
		Use:   "remove <permalink>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/cart/items/" + url.PathEscape(args[0])
			if optionID != "" {
				path += "?option_id=" + url.QueryEscape(optionID)
			}
			resp, err := doRequest(http.MethodDelete, path, nil)
			if err != nil {
				return fmt.Errorf("removing item: %w", err)
			}
			items, _ := resp["items"].([]any)
			printSuccess("Removed %s", args[0])
			printItems(items)
			return nil
		},
	}
	cmd.Flags().StringVar(&optionID, "option", "", "Variant option id")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := doRequest(http.MethodDelete, "/cart", nil); err != nil {
				return fmt.Errorf("clearing cart: %w", err)
			}
			printSuccess("Cart cleared")
			return nil
		},
	}
}

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote",
		Short: "Price the cart with discounts applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodGet, "/cart/quote", nil)
			if err != nil {
				return fmt.Errorf("quoting cart: %w", err)
			}
			if quiet {
				fmt.Println(formatCents(resp["total_cents"]))
				return nil
			}
			printSuccess("Cart priced")
			if lines, ok := resp["items"].([]any); ok {
				for _, l := range lines {
					line, _ := l.(map[string]any)
					fmt.Printf("    - %v x%v: %s -> %s\n", line["permalink"], line["quantity"],
						formatCents(line["unit_price_cents"]), formatCents(line["discounted_unit_price_cents"]))
				}
			}
			fmt.Printf("  Subtotal: %s\n", formatCents(resp["subtotal_cents"]))
			fmt.Printf("  Discount: %s\n", formatCents(resp["discount_cents"]))
			fmt.Printf("  Total: %s%s%s\n", colorGreen, formatCents(resp["total_cents"]), colorReset)
			return nil
		},
	}
}

// newDiscountCmd applies or removes codes. A single code is removed in
// place; applying a code or clearing them all goes through PUT /cart, which
// replaces the whole cart, so the current state is fetched and resent.
func newDiscountCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "discount [code]",
		Short: "Apply a discount code, or remove it (all codes without one) with --remove",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !remove {
				return fmt.Errorf("a code or --remove is required")
			}
			if len(args) == 1 && remove {
				if _, err := doRequest(http.MethodDelete, "/cart/discount-codes/"+url.PathEscape(args[0]), nil); err != nil {
					return fmt.Errorf("removing discount code: %w", err)
				}
				printSuccess("Removed %s", args[0])
				return nil
			}

			printInfo("Fetching current cart state...")
			current, err := doRequest(http.MethodGet, "/cart", nil)
			if err != nil {
				return fmt.Errorf("getting cart: %w", err)
			}

			codes := []any{}
			if !remove {
				if existing, ok := current["discount_codes"].([]any); ok {
					codes = existing
				}
				codes = append(codes, map[string]any{"code": args[0]})
			}
			current["discount_codes"] = codes
			current["return_url"] = "/cart"

			alert, err := putCart(current)
			if err != nil {
				return fmt.Errorf("updating cart: %w", err)
			}
			if alert != "" {
				return fmt.Errorf("cart update rejected: %s", alert)
			}
			printSuccess("Discount codes updated")
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the code, or all codes when none is given")
	return cmd
}

// === offers ===

func newOffersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Walk the cross-sell and upsell flow",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Present the first pending offer",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOffer("/cart/offers", nil)
			},
		},
		&cobra.Command{
			Use:   "accept <offer-id>",
			Short: "Accept the presented offer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOffer("/cart/offers/accept", map[string]any{"offer_id": args[0]})
			},
		},
		&cobra.Command{
			Use:   "decline <offer-id>",
			Short: "Decline the presented offer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOffer("/cart/offers/decline", map[string]any{"offer_id": args[0]})
			},
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Abandon the offer flow",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOffer("/cart/offers/cancel", nil)
			},
		},
	)
	return cmd
}

func runOffer(path string, body any) error {
	resp, err := doRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	state, _ := resp["state"].(string)
	current, _ := resp["offer"].(map[string]any)
	if quiet {
		if current != nil {
			fmt.Println(current["id"])
		} else {
			fmt.Println(state)
		}
		return nil
	}
	printSuccess("Offer flow state: %s", state)
	if current != nil {
		fmt.Printf("  Offer: %s%v%s (%v)\n", colorCyan, current["id"], colorReset, current["kind"])
	}
	if pending, ok := resp["pending"].(float64); ok {
		fmt.Printf("  Pending: %d\n", int(pending))
	}
	if msg, _ := resp["error"].(string); msg != "" {
		printWarning("%s", msg)
	}
	return nil
}

// === checkout ===

func newPaymentCmd() *cobra.Command {
	var processor, token, payee, update string
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Open a processor order for the cart, or reprice one with --update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			var err error
			if update != "" {
				resp, err = doRequest(http.MethodPatch, "/cart/payment/"+url.PathEscape(update),
					map[string]any{"processor": processor})
			} else {
				resp, err = doRequest(http.MethodPost, "/cart/payment", map[string]any{
					"processor":     processor,
					"payment_token": token,
					"payee_email":   payee,
				})
			}
			if err != nil {
				return fmt.Errorf("preparing payment: %w", err)
			}
			result, _ := resp["result"].(map[string]any)
			if quiet {
				fmt.Println(result["id"])
				return nil
			}
			printSuccess("Processor answered %d", int(asFloat(resp["status_code"])))
			if id, ok := result["id"]; ok {
				fmt.Printf("  Order: %s%v%s\n", colorCyan, id, colorReset)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&processor, "processor", "stripe", "Payment processor (stripe, paypal)")
	f.StringVar(&token, "token", "", "Payment method token (stripe)")
	f.StringVar(&payee, "payee", "", "Seller account email (paypal)")
	f.StringVar(&update, "update", "", "Order id to reprice after the cart changed")
	return cmd
}

func newCheckoutCmd() *cobra.Command {
	var email, token, processor string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Submit the cart for payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"email":         email,
				"payment_token": token,
				"processor":     processor,
			}
			resp, status, err := doRequestStatus(http.MethodPost, "/checkout", body)
			if err != nil && status != http.StatusPaymentRequired {
				return fmt.Errorf("submitting checkout: %w", err)
			}

			kind, _ := resp["kind"].(string)
			if quiet {
				fmt.Println(kind)
				return nil
			}
			switch kind {
			case "failed":
				printError("Checkout failed")
			case "receipt":
				printWarning("Checkout partially succeeded")
			default:
				printSuccess("Checkout completed (%s)", kind)
			}
			if ids, ok := resp["purchase_ids"].([]any); ok {
				for _, id := range ids {
					fmt.Printf("  Purchase: %s%v%s\n", colorGreen, id, colorReset)
				}
			}
			if failed, ok := resp["failed"].([]any); ok {
				for _, f := range failed {
					item, _ := f.(map[string]any)
					printError("%v: %v", item["permalink"], item["error"])
				}
			}
			if redirect, _ := resp["redirect_url"].(string); redirect != "" {
				fmt.Printf("  Redirect: %s%s%s\n", colorBlue, redirect, colorReset)
			}
			fmt.Printf("  Charged: %s\n", formatCents(resp["charged_cents"]))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "test@example.com", "Buyer email")
	f.StringVar(&token, "token", "", "Payment token from the processor's client SDK")
	f.StringVar(&processor, "processor", "stripe", "Payment processor (stripe, paypal)")
	return cmd
}

func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture <purchase-id>",
		Short: "Capture an authorized purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodPost, "/purchases/"+url.PathEscape(args[0])+"/capture", nil)
			if err != nil {
				return fmt.Errorf("capturing purchase: %w", err)
			}
			if quiet {
				fmt.Println(strconv.Itoa(int(asFloat(resp["status_code"]))))
				return nil
			}
			printSuccess("Capture accepted by processor")
			return nil
		},
	}
}

func newRefundCmd() *cobra.Command {
	var amount int64
	var reason string
	cmd := &cobra.Command{
		Use:   "refund <purchase-id>",
		Short: "Refund a purchase, in full unless --amount is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"amount_cents": amount, "reason": reason}
			resp, err := doRequest(http.MethodPost, "/purchases/"+url.PathEscape(args[0])+"/refund", body)
			if err != nil {
				return fmt.Errorf("refunding purchase: %w", err)
			}
			if quiet {
				fmt.Println(strconv.Itoa(int(asFloat(resp["status_code"]))))
				return nil
			}
			printSuccess("Refund accepted by processor")
			return nil
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount in cents (0 refunds in full)")
	cmd.Flags().StringVar(&reason, "reason", "", "Refund reason")
	return cmd
}

func printItems(items []any) {
	if len(items) == 0 {
		fmt.Printf("  %sCart is empty%s\n", colorGray, colorReset)
		return
	}
	fmt.Printf("  %sItems:%s\n", colorYellow, colorReset)
	for _, it := range items {
		item, _ := it.(map[string]any)
		label := fmt.Sprint(item["permalink"])
		if opt, _ := item["option_id"].(string); opt != "" {
			label += " (" + opt + ")"
		}
		fmt.Printf("    - %s x%v: %s\n", label, item["quantity"], formatCents(item["price_cents"]))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
