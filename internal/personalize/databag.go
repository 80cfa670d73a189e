package personalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/znz-systems/courier/internal/models"
)

// Company holds the fixed company fields available to every template.
type Company struct {
	Name  string
	Phone string
	Email string
}

// BuildDataBag assembles the personalization data for a recipient.
func BuildDataBag(r *models.Recipient, company Company, now time.Time) DataBag {
	bag := DataBag{
		"user_id":       r.ID,
		"first_name":    r.FirstName,
		"last_name":     r.LastName,
		"full_name":     strings.TrimSpace(r.FirstName + " " + r.LastName),
		"email":         r.Email,
		"phone":         r.Phone,
		"current_date":  now.Format("January 2, 2006"),
		"current_time":  now.Format("3:04 PM"),
		"company_name":  company.Name,
		"company_phone": company.Phone,
		"company_email": company.Email,
	}

	if loan := r.Loan; loan != nil {
		bag["loan_amount"] = FormatMoney(loan.Amount)
		bag["interest_rate"] = strconv.FormatFloat(loan.InterestRate, 'f', -1, 64)
		bag["loan_term"] = loan.TermMonths
		bag["loan_status"] = loan.Status
		bag["current_step"] = loan.CurrentStep
		if !loan.ApplicationDate.IsZero() {
			bag["application_date"] = loan.ApplicationDate.Format("January 2, 2006")
		}
		if payment, ok := MonthlyPayment(loan.Amount, loan.InterestRate, loan.TermMonths); ok {
			bag["monthly_payment"] = FormatMoney(payment)
		}
	}

	return bag
}

// MonthlyPayment returns the amortized monthly payment for a loan of
// principal at annualRatePercent over termMonths. A zero rate spreads the
// principal evenly. ok is false when the loan data is incomplete.
func MonthlyPayment(principal, annualRatePercent float64, termMonths int) (payment float64, ok bool) {
	if principal <= 0 || termMonths <= 0 || annualRatePercent < 0 {
		return 0, false
	}
	n := float64(termMonths)
	r := annualRatePercent / 100 / 12
	if r == 0 {
		return principal / n, true
	}
	growth := math.Pow(1+r, n)
	return principal * r * growth / (growth - 1), true
}

// FormatMoney formats v with two decimals and comma thousands separators,
// e.g. 12345.678 becomes "12,345.68".
func FormatMoney(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	if v < 0 && s != "0.00" {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(frac)
	return b.String()
}
