package controllers

import (
	"net/http"
	"strings"

	"github.com/chatloop/chatloop-backend/api/responses"
	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"github.com/chatloop/chatloop-backend/pkg/money"
)

type quoteResponse struct {
	Category      enums.ConversationCategory `json:"category"`
	CountryCode   string                     `json:"country_code,omitempty"`
	AmountMinor   int64                      `json:"amount_minor_units"`
	AmountDisplay string                     `json:"amount_display"`
	Currency      enums.Currency             `json:"currency"`
}

// PricingQuote prices one conversation for the caller without reserving funds.
func PricingQuote(svc charging.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charging service unavailable"))
			return
		}

		uid, err := userFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		category, err := enums.ParseConversationCategory(strings.TrimSpace(r.URL.Query().Get("category")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid category"))
			return
		}

		country := strings.TrimSpace(r.URL.Query().Get("country"))

		price, err := svc.PriceForSend(r.Context(), uid, category, country)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, quoteResponse{
			Category:      category,
			CountryCode:   strings.ToUpper(country),
			AmountMinor:   price.AmountMinor,
			AmountDisplay: money.New(price.AmountMinor, price.Currency).Display(),
			Currency:      price.Currency,
		})
	}
}
