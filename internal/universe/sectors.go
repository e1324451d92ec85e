package universe

// sectorLeaders maps the ten GICS-style sectors to their three most liquid
// large caps. Static by choice: leadership churn is slow and the evening
// pipeline promotes movers dynamically anyway.
var sectorLeaders = map[string][]string{
	"technology":             {"AAPL", "MSFT", "NVDA"},
	"communication_services": {"GOOGL", "META", "NFLX"},
	"consumer_discretionary": {"AMZN", "TSLA", "HD"},
	"consumer_staples":       {"PG", "KO", "COST"},
	"financials":             {"JPM", "BAC", "V"},
	"healthcare":             {"UNH", "JNJ", "LLY"},
	"industrials":            {"CAT", "BA", "UNP"},
	"energy":                 {"XOM", "CVX", "COP"},
	"materials":              {"LIN", "FCX", "SHW"},
	"utilities":              {"NEE", "DUK", "SO"},
}

// discoveryCandidates seeds priority-3 with liquid index and momentum
// vehicles worth scanning when the cap allows.
var discoveryCandidates = []string{
	"SPY", "QQQ", "IWM", "AMD", "AVGO", "CRM", "ORCL", "ADBE",
	"DIS", "NKE", "SBUX", "MCD", "PFE", "MRK", "ABBV", "GS",
	"MS", "WFC", "GE", "DE", "F", "GM", "PLTR", "UBER",
}
