package prompt

// Profile names a trading persona. Thresholds gate order placement in the
// risk layer; posture text shapes the model's instructions.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileModerate     Profile = "moderate"
	ProfileAggressive   Profile = "aggressive"
	ProfileRotator      Profile = "rotator"
	ProfileMomentum     Profile = "momentum"
	ProfileValue        Profile = "value"
)

// Valid reports whether the profile is a member of the closed enumeration
func (p Profile) Valid() bool {
	_, ok := profiles[p]
	return ok
}

// ProfileParams holds the per-profile decision thresholds and the persona
// text rendered into prompts.
type ProfileParams struct {
	Name        Profile
	MinBuyConf  int
	MinSellConf int
	Posture     string
	Focus       string
}

var profiles = map[Profile]ProfileParams{
	ProfileConservative: {
		Name:        ProfileConservative,
		MinBuyConf:  75,
		MinSellConf: 70,
		Posture:     "capital preservation first; prefer holding cash over marginal trades",
		Focus:       "large-cap quality, low volatility, established uptrends with confirming volume",
	},
	ProfileModerate: {
		Name:        ProfileModerate,
		MinBuyConf:  65,
		MinSellConf: 60,
		Posture:     "balanced growth; accept moderate drawdowns for steady compounding",
		Focus:       "liquid names with clear technical setups and supportive news flow",
	},
	ProfileAggressive: {
		Name:        ProfileAggressive,
		MinBuyConf:  55,
		MinSellConf: 50,
		Posture:     "growth first; act early on developing setups and cut losers fast",
		Focus:       "high-beta movers, breakouts, and volume surges",
	},
	ProfileRotator: {
		Name:        ProfileRotator,
		MinBuyConf:  60,
		MinSellConf: 40,
		Posture:     "keep capital in the strongest names; exit laggards quickly to fund rotations",
		Focus:       "relative strength across the watchlist; sector leadership shifts",
	},
	ProfileMomentum: {
		Name:        ProfileMomentum,
		MinBuyConf:  55,
		MinSellConf: 50,
		Posture:     "ride confirmed trends; add on strength, exit on trend break",
		Focus:       "price and volume momentum, MACD alignment, new highs",
	},
	ProfileValue: {
		Name:        ProfileValue,
		MinBuyConf:  70,
		MinSellConf: 65,
		Posture:     "buy weakness in sound names; patience over activity",
		Focus:       "oversold conditions near support, mean reversion, negative sentiment extremes",
	},
}

// Params returns the parameter set for a profile. Unknown profiles fall
// back to moderate so a stale config cannot zero the thresholds.
func (p Profile) Params() ProfileParams {
	if params, ok := profiles[p]; ok {
		return params
	}
	return profiles[ProfileModerate]
}
