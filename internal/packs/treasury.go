package packs

// Treasury covers market, credit and liquidity risk signals.
func Treasury() Pack {
	return Pack{
		Name: "treasury",
		Signals: []SignalType{
			{
				Name:    "market_volatility_spike",
				Extract: Fields("asset"),
				Options: []Option{
					{ID: "hedge_position", Label: "Hedge the position"},
					{ID: "reduce_exposure", Label: "Reduce exposure"},
					{ID: "accept_risk", Label: "Accept and monitor"},
				},
			},
			{
				Name:    "credit_downgrade",
				Extract: Fields("counterparty"),
				Options: []Option{
					{ID: "reduce_limit", Label: "Reduce counterparty limit"},
					{ID: "request_collateral", Label: "Request additional collateral"},
					{ID: "maintain_limit", Label: "Maintain current limit"},
				},
			},
			{
				Name:    "covenant_breach",
				Extract: Fields("covenant_name", "facility"),
				Options: []Option{
					{ID: "seek_waiver", Label: "Seek a lender waiver"},
					{ID: "renegotiate_terms", Label: "Renegotiate facility terms"},
					{ID: "cure_breach", Label: "Cure within the remedy period"},
				},
			},
			{
				Name:    "liquidity_shortfall",
				Extract: Fields("account", "currency"),
				Options: []Option{
					{ID: "draw_facility", Label: "Draw on a credit facility"},
					{ID: "transfer_funds", Label: "Transfer from another account"},
					{ID: "defer_payments", Label: "Defer discretionary payments"},
				},
			},
			{
				Name:    "fx_exposure_breach",
				Extract: Fields("currency_pair", "entity"),
				Options: []Option{
					{ID: "forward_hedge", Label: "Hedge with forwards"},
					{ID: "natural_offset", Label: "Offset with natural exposure"},
					{ID: "accept_exposure", Label: "Accept within tolerance"},
				},
			},
			{
				Name:    "counterparty_limit_breach",
				Extract: Fields("counterparty", "limit_type"),
				Options: []Option{
					{ID: "unwind_trades", Label: "Unwind excess trades"},
					{ID: "temporary_increase", Label: "Approve a temporary limit increase"},
					{ID: "novate_exposure", Label: "Novate exposure to another counterparty"},
				},
			},
		},
	}
}
