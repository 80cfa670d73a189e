package personalize

// Variable documents a placeholder available to templates.
type Variable struct {
	Name        string `json:"variable_name"`
	Description string `json:"description"`
	Example     string `json:"example_value"`
	Category    string `json:"category"`
}

var variables = []Variable{
	{"first_name", "Recipient first name", "Ann", "Recipient"},
	{"last_name", "Recipient last name", "Smith", "Recipient"},
	{"full_name", "First and last name", "Ann Smith", "Recipient"},
	{"email", "Recipient email address", "ann@example.com", "Recipient"},
	{"phone", "Recipient phone number", "(555) 010-2000", "Recipient"},
	{"loan_amount", "Requested loan amount", "15,000.00", "Loan"},
	{"interest_rate", "Annual interest rate in percent", "7.5", "Loan"},
	{"loan_term", "Loan term in months", "36", "Loan"},
	{"loan_status", "Application status", "approved", "Loan"},
	{"monthly_payment", "Amortized monthly payment", "466.59", "Loan"},
	{"application_date", "Date the application was started", "March 3, 2026", "Loan"},
	{"current_step", "Current application step", "2", "Loan"},
	{"company_name", "Company display name", "LoanFlow Financial", "Company"},
	{"company_phone", "Company phone number", "(555) 123-4567", "Company"},
	{"company_email", "Company contact address", "info@loanflow.com", "Company"},
	{"current_date", "Date the email was queued", "October 16, 2026", "General"},
	{"current_time", "Time the email was queued", "9:30 AM", "General"},
}

// Variables returns the supported placeholders grouped by category.
func Variables() map[string][]Variable {
	grouped := make(map[string][]Variable)
	for _, v := range variables {
		grouped[v.Category] = append(grouped[v.Category], v)
	}
	return grouped
}
