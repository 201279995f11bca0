package repository

type ComplaintFilter struct {
	Q           string // free text over sequence code, description, area
	Status      string
	Priority    string
	Type        string
	WardID      string
	OfficerID   string
	Maintenance string
	SubmittedBy string
	Limit       int
	Offset      int
	Sort        string // created_at, updated_at, deadline, priority
	Order       string // asc|desc
}
