package packs

// Wealth covers client suitability and portfolio construction signals.
func Wealth() Pack {
	return Pack{
		Name: "wealth",
		Signals: []SignalType{
			{
				Name:    "suitability_mismatch",
				Extract: Fields("client_id", "portfolio_id"),
				Options: []Option{
					{ID: "rebalance_portfolio", Label: "Rebalance to the client profile"},
					{ID: "update_profile", Label: "Update the client risk profile"},
					{ID: "document_exception", Label: "Document a client-directed exception"},
				},
			},
			{
				Name:    "concentration_breach",
				Extract: Fields("portfolio_id", "asset"),
				Options: []Option{
					{ID: "trim_position", Label: "Trim the concentrated position"},
					{ID: "hedge_position", Label: "Hedge the concentrated position"},
					{ID: "client_acknowledgement", Label: "Obtain client acknowledgement"},
				},
			},
			{
				Name:    "drawdown_alert",
				Extract: Fields("portfolio_id"),
				Options: []Option{
					{ID: "review_allocation", Label: "Review the allocation"},
					{ID: "contact_client", Label: "Contact the client"},
					{ID: "hold_course", Label: "Hold the current strategy"},
				},
			},
			{
				Name:    "kyc_expiry",
				Extract: Fields("client_id"),
				Options: []Option{
					{ID: "request_documents", Label: "Request updated documents"},
					{ID: "restrict_account", Label: "Restrict account activity"},
				},
			},
			{
				Name:    "rebalancing_drift",
				Extract: Fields("portfolio_id", "model_id"),
				Options: []Option{
					{ID: "rebalance_now", Label: "Rebalance now"},
					{ID: "defer_to_schedule", Label: "Defer to the scheduled rebalance"},
				},
			},
		},
	}
}
