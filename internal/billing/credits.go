package billing

// CreditPolicy converts raw USD cost into user credits.
type CreditPolicy struct {
	MarginPercent    float64 `mapstructure:"margin_percent"`
	CreditsPerDollar float64 `mapstructure:"credits_per_dollar"`
}

// DefaultCreditPolicy charges a 20% margin at 100 credits per dollar.
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{MarginPercent: 20, CreditsPerDollar: 100}
}

// Credits returns rawCost × (1 + margin/100) × creditsPerDollar.
func (p CreditPolicy) Credits(rawCost float64) float64 {
	return rawCost * (1 + p.MarginPercent/100) * p.CreditsPerDollar
}
