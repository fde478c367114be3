package rules

import "sync"

// Thresholds follow the Sales Tax Institute economic nexus state guide.
// Several states have dropped their transaction count threshold; those carry
// a sales threshold only.
func defaultRules() []Rule {
	noStateTax := func(code, notes string) Rule {
		return NewRule(code, NoStateSalesTax(), Notes(notes))
	}
	return []Rule{
		NewRule("AL", Sales(250000), Notes("More than $250,000 in the previous 12-month period.")),
		noStateTax("AK", "No statewide sales tax. Local jurisdictions may have their own economic nexus rules."),
		NewRule("AZ", Sales(100000), Transactions(200)),
		NewRule("AR", Sales(100000), Transactions(200)),
		NewRule("CA", Sales(500000), Notes("Sales of tangible personal property into CA in the current or prior calendar year.")),
		NewRule("CO", Sales(100000)),
		NewRule("CT", Sales(100000), Transactions(200), Notes("Threshold is $100,000 in sales AND 200 or more retail transactions.")),
		NewRule("DC", Sales(100000), Transactions(200)),
		noStateTax("DE", "No sales tax at the state level."),
		NewRule("FL", Sales(100000)),
		NewRule("GA", Sales(100000), Transactions(200)),
		NewRule("HI", Sales(100000)),
		NewRule("ID", Sales(100000), Transactions(200)),
		NewRule("IL", Sales(100000), Transactions(200)),
		NewRule("IN", Sales(100000), Transactions(200)),
		NewRule("IA", Sales(100000)),
		NewRule("KS", Sales(100000)),
		NewRule("KY", Sales(100000), Transactions(200)),
		NewRule("LA", Sales(100000)),
		NewRule("ME", Sales(100000), Transactions(200)),
		NewRule("MD", Sales(100000), Transactions(200)),
		NewRule("MA", Sales(100000)),
		NewRule("MI", Sales(100000), Transactions(200)),
		NewRule("MN", Sales(100000), Transactions(200)),
		NewRule("MS", Sales(250000)),
		NewRule("MO", Sales(100000)),
		noStateTax("MT", "No sales tax at the state level."),
		NewRule("NE", Sales(100000), Transactions(200)),
		NewRule("NV", Sales(100000), Transactions(200)),
		noStateTax("NH", "No sales tax at the state level."),
		NewRule("NJ", Sales(100000), Transactions(200)),
		NewRule("NM", Sales(100000)),
		NewRule("NY", Sales(500000), Transactions(100), Notes("More than $500,000 in sales of tangible personal property AND more than 100 sales.")),
		NewRule("NC", Sales(100000), Notes("Transaction threshold removed effective July 1, 2024.")),
		NewRule("ND", Sales(100000), Notes("Transaction threshold removed effective December 31, 2018.")),
		NewRule("OH", Sales(100000), Transactions(200)),
		NewRule("OK", Sales(100000)),
		noStateTax("OR", "No sales tax at the state level."),
		NewRule("PA", Sales(100000)),
		NewRule("RI", Sales(100000), Transactions(200)),
		NewRule("SC", Sales(100000)),
		NewRule("SD", Sales(100000), Notes("Transaction threshold removed effective July 1, 2023.")),
		NewRule("TN", Sales(100000)),
		NewRule("TX", Sales(500000)),
		NewRule("UT", Sales(100000), Notes("Transaction threshold removed effective July 1, 2025.")),
		NewRule("VT", Sales(100000), Transactions(200)),
		NewRule("VA", Sales(100000), Transactions(200)),
		NewRule("WA", Sales(100000), Notes("Uses a $100,000 gross income threshold. Transaction threshold removed.")),
		NewRule("WV", Sales(100000), Transactions(200)),
		NewRule("WI", Sales(100000), Notes("Transaction threshold removed effective February 20, 2021.")),
		NewRule("WY", Sales(100000), Notes("Transaction threshold removed effective July 1, 2024.")),
		NewRule("PR", Sales(100000), Transactions(200), Notes("Puerto Rico: seller's accounting/fiscal year.")),
	}
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := NewTable(defaultRules()...)
	if err != nil {
		panic(err)
	}
	return t
})

// Default returns the built-in table, constructed on first use.
func Default() *Table {
	return defaultTable()
}
