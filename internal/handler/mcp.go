// MCP transport handler for the checkout service using the official MCP Go SDK.
// Exposes the buyer-facing cart operations as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"checkout-service/internal/cart"
	"checkout-service/internal/checkout"
	"checkout-service/internal/model"
	"checkout-service/internal/pricing"
)

// === MCP Tool Input/Output Types ===
// Every tool takes the buyer identity that REST clients send in the
// Buyer-Context header.

// BuyerInput identifies the cart owner.
type BuyerInput struct {
	UserID      string `json:"user_id,omitempty" jsonschema:"signed-in user id"`
	BrowserGUID string `json:"browser_guid,omitempty" jsonschema:"anonymous browser id, used when user_id is empty"`
	Country     string `json:"country,omitempty" jsonschema:"ISO 3166-1 alpha-2 country for regional pricing"`
}

func (b BuyerInput) owner() (model.Owner, error) {
	o := model.Owner{UserID: b.UserID, BrowserGUID: b.BrowserGUID, Country: b.Country}
	if o.IsZero() {
		return o, errors.New("buyer.user_id or buyer.browser_guid is required")
	}
	return o, nil
}

// GetCartInput is the input schema for get_cart and quote_cart.
type GetCartInput struct {
	Buyer BuyerInput `json:"buyer" jsonschema:"cart owner"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	Buyer     BuyerInput `json:"buyer" jsonschema:"cart owner"`
	Permalink string     `json:"permalink" jsonschema:"product permalink"`
	OptionID  string     `json:"option_id,omitempty" jsonschema:"product option (variant or tier)"`
	Quantity  int        `json:"quantity,omitempty" jsonschema:"quantity, defaults to 1"`
	Referrer  string     `json:"referrer,omitempty" jsonschema:"referring page"`
}

// SubmitCheckoutInput is the input schema for submit_checkout.
type SubmitCheckoutInput struct {
	Buyer        BuyerInput `json:"buyer" jsonschema:"cart owner"`
	Email        string     `json:"email,omitempty" jsonschema:"receipt email, defaults to the cart email"`
	PaymentToken string     `json:"payment_token" jsonschema:"tokenized payment method"`
	Processor    string     `json:"processor" jsonschema:"paypal or stripe"`
}

// CartLine is one item in a cart tool result.
type CartLine struct {
	Permalink  string `json:"permalink"`
	OptionID   string `json:"option_id,omitempty"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	OfferID    string `json:"offer_id,omitempty"`
}

// CartOutput is the cart as returned to MCP clients.
type CartOutput struct {
	Items         []CartLine `json:"items"`
	Email         string     `json:"email,omitempty"`
	DiscountCodes []string   `json:"discount_codes"`
	MaxItems      int        `json:"max_items"`
}

// QuoteLine is one priced item.
type QuoteLine struct {
	Permalink           string `json:"permalink"`
	OptionID            string `json:"option_id,omitempty"`
	Quantity            int    `json:"quantity"`
	UnitPriceCents      int64  `json:"unit_price_cents"`
	DiscountedUnitCents int64  `json:"discounted_unit_price_cents"`
	DiscountKind        string `json:"discount_kind,omitempty"`
	DiscountCode        string `json:"discount_code,omitempty"`
}

// QuoteOutput is a priced cart.
type QuoteOutput struct {
	Items         []QuoteLine `json:"items"`
	SubtotalCents int64       `json:"subtotal_cents"`
	DiscountCents int64       `json:"discount_cents"`
	TotalCents    int64       `json:"total_cents"`
}

// CheckoutOutput is the result of submit_checkout.
type CheckoutOutput struct {
	Kind         string                `json:"kind"`
	RedirectURL  string                `json:"redirect_url,omitempty"`
	PurchaseIDs  []string              `json:"purchase_ids"`
	Failed       []checkout.FailedItem `json:"failed,omitempty"`
	ChargedCents int64                 `json:"charged_cents"`
	Cart         CartOutput            `json:"cart"`
}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "checkout-service",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Marketplace cart and checkout. " +
				"Use these tools to inspect, fill, price and pay for a buyer's cart.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the buyer's cart.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the buyer's cart. Adding a product already in the cart increases its quantity.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "quote_cart",
		Description: "Price the buyer's cart with discount codes, offers and regional pricing applied.",
	}, h.mcpQuoteCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_checkout",
		Description: "Charge the buyer's cart. Items that fail stay in the cart.",
	}, h.mcpSubmitCheckout)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := input.Buyer.owner()
	if err != nil {
		return nil, CartOutput{}, err
	}

	c, err := h.checkout.Get(ctx, owner)
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, h.cartOutput(c), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, CartOutput, error) {
	owner, err := input.Buyer.owner()
	if err != nil {
		return nil, CartOutput{}, err
	}
	if input.Permalink == "" {
		return nil, CartOutput{}, fmt.Errorf("permalink is required")
	}

	c, err := h.checkout.AddItem(ctx, owner, input.Permalink, cart.AddParams{
		OptionID: input.OptionID,
		Quantity: input.Quantity,
		Referrer: input.Referrer,
	})
	if err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, h.cartOutput(c), nil
}

func (h *Handler) mcpQuoteCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, QuoteOutput, error) {
	owner, err := input.Buyer.owner()
	if err != nil {
		return nil, QuoteOutput{}, err
	}

	q, err := h.checkout.Quote(ctx, owner)
	if err != nil {
		return nil, QuoteOutput{}, h.mcpError(err)
	}
	return nil, quoteOutput(q), nil
}

func (h *Handler) mcpSubmitCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SubmitCheckoutInput,
) (*mcp.CallToolResult, CheckoutOutput, error) {
	owner, err := input.Buyer.owner()
	if err != nil {
		return nil, CheckoutOutput{}, err
	}

	outcome, err := h.checkout.Submit(ctx, owner, checkout.SubmitRequest{
		Email:        input.Email,
		PaymentToken: input.PaymentToken,
		Processor:    input.Processor,
	})
	if err != nil {
		return nil, CheckoutOutput{}, h.mcpError(err)
	}

	return nil, CheckoutOutput{
		Kind:         string(outcome.Kind),
		RedirectURL:  outcome.RedirectURL,
		PurchaseIDs:  nonNil(outcome.PurchaseIDs),
		Failed:       outcome.Failed,
		ChargedCents: outcome.ChargedCents,
		Cart:         h.cartOutput(outcome.Cart),
	}, nil
}

// mcpError converts service errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}

func (h *Handler) cartOutput(c *model.CartState) CartOutput {
	out := CartOutput{
		Items:         []CartLine{},
		DiscountCodes: []string{},
		MaxItems:      h.checkout.MaxItems(),
	}
	if c == nil {
		return out
	}
	out.Email = c.Email
	for _, item := range c.Items {
		line := CartLine{
			Permalink:  item.Permalink,
			OptionID:   item.OptionID,
			Quantity:   item.Quantity,
			PriceCents: item.PriceCents,
		}
		if item.AcceptedOffer != nil {
			line.OfferID = item.AcceptedOffer.ID
		}
		out.Items = append(out.Items, line)
	}
	for _, dc := range c.DiscountCodes {
		out.DiscountCodes = append(out.DiscountCodes, dc.Code)
	}
	return out
}

func quoteOutput(q *pricing.CartQuote) QuoteOutput {
	out := QuoteOutput{
		Items:         []QuoteLine{},
		SubtotalCents: q.SubtotalCents,
		DiscountCents: q.DiscountCents,
		TotalCents:    q.TotalCents,
	}
	for _, item := range q.Items {
		line := QuoteLine{
			Permalink:           item.Permalink,
			OptionID:            item.OptionID,
			Quantity:            item.Quantity,
			UnitPriceCents:      item.UnitPriceCents,
			DiscountedUnitCents: item.DiscountedUnitCents,
		}
		if item.Applied != nil {
			line.DiscountKind = string(item.Applied.Kind)
			line.DiscountCode = item.Applied.Code
		}
		out.Items = append(out.Items, line)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
