package model

// CirculationStats summarizes the state of the collection for the dashboard.
type CirculationStats struct {
	Titles          int `json:"titles"`
	Copies          int `json:"copies"`
	Available       int `json:"available"`
	OnLoan          int `json:"on_loan"`
	OpenLoans       int `json:"open_loans"`
	OverdueLoans    int `json:"overdue_loans"`
	Patrons         int `json:"patrons"`
	RecentCheckouts int `json:"recent_checkouts"`
}

// PopularBook is a book ranked by checkout count.
type PopularBook struct {
	BookID    int64  `json:"book_id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Checkouts int    `json:"checkouts"`
}

// CategoryCount aggregates copies and checkouts per category.
type CategoryCount struct {
	Category  string `json:"category"`
	Titles    int    `json:"titles"`
	Copies    int    `json:"copies"`
	Checkouts int    `json:"checkouts"`
}
